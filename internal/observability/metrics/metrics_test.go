package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest("webhook", http.MethodPost, 200, 20*time.Millisecond)
	m.ObserveHTTPRequest("webhook", http.MethodPost, 500, 2*time.Second)
	m.ObserveLaunch("success", 40*time.Second)
	m.ObserveLaunchStep("provision", "soft_fail")
	m.ObserveWebhookEvent("earning", "applied")
	m.ObserveFeeClaim("nothing")

	body := scrape(t, m)
	for _, want := range []string{
		`alife_http_requests_total{code="200",handler="webhook",method="POST"} 1`,
		`alife_http_request_errors_total{handler="webhook",method="POST"} 1`,
		`alife_http_request_duration_seconds_count{handler="webhook",method="POST"} 2`,
		`alife_launches_total{outcome="success"} 1`,
		`alife_launch_steps_total{outcome="soft_fail",step="provision"} 1`,
		`alife_webhook_events_total{event="earning",outcome="applied"} 1`,
		`alife_fee_claims_total{outcome="nothing"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q\n%s", want, body)
		}
	}
}

func TestInstancesAreIsolated(t *testing.T) {
	a, b := New(), New()
	a.ObserveFeeClaim("claimed")
	if strings.Contains(scrape(t, b), `alife_fee_claims_total{outcome="claimed"}`) {
		t.Fatal("registries must not share state")
	}
}

func TestStartServerRequiresAddress(t *testing.T) {
	if err := New().StartServer(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}
