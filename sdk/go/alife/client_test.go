package alife

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestListAgentsEncodesFilters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/agents" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("status") != "alive,critical" || q.Get("limit") != "5" || q.Get("creator") != "did:privy:creator" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"agents": []map[string]any{
			{"id": "a1", "conway_sandbox_id": "sbx-1", "total_earned": 12.5},
		}})
	})

	agents, err := client.ListAgents(context.Background(), ListOptions{
		Statuses:  []string{"alive", "critical"},
		CreatorID: "did:privy:creator",
		Limit:     5,
	})
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 1 || agents[0].SandboxID != "sbx-1" || agents[0].TotalEarned != 12.5 {
		t.Fatalf("unexpected agents: %+v", agents)
	}
}

func TestOperatorCallsSendBearerToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/api/v1/agents/a1/fund":
			var body map[string]float64
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["amount"] != 10 {
				t.Fatalf("unexpected body: %v %v", body, err)
			}
			_ = json.NewEncoder(w).Encode(Funding{ID: "f-1", AgentID: "a1", Amount: 10})
		case "/api/v1/fees/claim":
			_ = json.NewEncoder(w).Encode(map[string]string{"tx_hash": "0xc1a1"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	client.SetAccessToken("token")

	funding, err := client.Fund(context.Background(), "a1", 10)
	if err != nil || funding.ID != "f-1" {
		t.Fatalf("fund: %+v %v", funding, err)
	}
	hash, err := client.ClaimFees(context.Background())
	if err != nil || hash != "0xc1a1" {
		t.Fatalf("claim: %q %v", hash, err)
	}
}

func TestLaunchPersistenceFailureExposesResumeToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"PERSISTENCE_FAILURE","message":"agent record not saved","metadata":{"resume_token":"tok"}}}`))
	})
	client.SetAccessToken("token")

	_, err := client.Launch(context.Background(), LaunchRequest{Name: "NEXUS", Ticker: "NEXUS", GenesisPrompt: "survive"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "PERSISTENCE_FAILURE" || apiErr.ResumeToken() != "tok" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestSendEventUsesSharedSecret(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhooks/agent-events" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get(SecretHeader) != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	event := Event{SandboxID: "sbx-1", Event: "heartbeat", Data: map[string]any{"credit_balance": 4.2}}
	if err := client.SendEvent(context.Background(), event); err == nil {
		t.Fatal("expected error without shared secret")
	}

	client.SetSharedSecret("wrong")
	err := client.SendEvent(context.Background(), event)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "Unauthorized" {
		t.Fatalf("expected unauthorized APIError, got %v", err)
	}

	client.SetSharedSecret("s3cret")
	if err := client.SendEvent(context.Background(), event); err != nil {
		t.Fatalf("send event: %v", err)
	}
}

func TestProtocolTerms(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/fees/protocol" || r.URL.RawQuery != "" {
			t.Fatalf("unexpected request: %s", r.URL)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"protocol_fee_bps":   "3000",
			"protocol_recipient": "0x3333333333333333333333333333333333333333",
		})
	})

	terms, err := client.Protocol(context.Background())
	if err != nil {
		t.Fatalf("protocol: %v", err)
	}
	if terms.FeeBps != "3000" || terms.Recipient != "0x3333333333333333333333333333333333333333" {
		t.Fatalf("unexpected terms: %+v", terms)
	}
}
