// Package metrics exposes Prometheus collectors for the HTTP surface, launch
// pipeline, webhook ingestion and fee claims.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alife"

// Metrics owns a dedicated registry so tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpErrors     *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	launches       *prometheus.CounterVec
	launchDuration prometheus.Histogram
	launchSteps    *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	feeClaims      *prometheus.CounterVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launches_total",
			Help:      "Launch attempts by outcome.",
		}, []string{"outcome"}),
		launchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "launch_duration_seconds",
			Help:      "End-to-end launch duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		launchSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launch_steps_total",
			Help:      "Launch step executions by step and outcome.",
		}, []string{"step", "outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound agent webhook events by kind and outcome.",
		}, []string{"event", "outcome"}),
		feeClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_claims_total",
			Help:      "Fee claim attempts by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpErrors,
		m.httpDuration,
		m.launches,
		m.launchDuration,
		m.launchSteps,
		m.webhookEvents,
		m.feeClaims,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		m.httpErrors.WithLabelValues(handler, method).Inc()
	}
	m.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveLaunch records a finished launch attempt.
func (m *Metrics) ObserveLaunch(outcome string, duration time.Duration) {
	m.launches.WithLabelValues(outcome).Inc()
	m.launchDuration.Observe(duration.Seconds())
}

// ObserveLaunchStep records the outcome of a single launch step.
func (m *Metrics) ObserveLaunchStep(step, outcome string) {
	m.launchSteps.WithLabelValues(step, outcome).Inc()
}

// ObserveWebhookEvent records an ingested webhook event.
func (m *Metrics) ObserveWebhookEvent(event, outcome string) {
	m.webhookEvents.WithLabelValues(event, outcome).Inc()
}

// ObserveFeeClaim records a fee claim attempt.
func (m *Metrics) ObserveFeeClaim(outcome string) {
	m.feeClaims.WithLabelValues(outcome).Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func (m *Metrics) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
