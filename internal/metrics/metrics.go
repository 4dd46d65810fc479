// Package metrics exposes the engine's Prometheus instrumentation. All
// metrics live on one private registry created by New, so tests and embedders
// never collide with the process-global default registry. Recording helpers
// are nil-safe: components hold an optional *Metrics and record
// unconditionally.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the engine emits.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	TradesMatched   *prometheus.CounterVec
	BreaksCreated   *prometheus.CounterVec
	BreaksEscalated prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New creates the registry and registers every metric exactly once.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recon_runs_total",
				Help: "Reconciliation runs by final status",
			},
			[]string{"status"},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "recon_run_duration_seconds",
				Help:    "Wall-clock duration of reconciliation runs",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),

		TradesMatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recon_trades_matched_total",
				Help: "Matched trade pairs by confidence tier",
			},
			[]string{"confidence"},
		),

		BreaksCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recon_breaks_created_total",
				Help: "Breaks recorded by severity",
			},
			[]string{"severity"},
		),

		BreaksEscalated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recon_breaks_escalated_total",
				Help: "Breaks escalated by the SLA sweep",
			},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recon_http_requests_total",
				Help: "HTTP requests by method, route and status code",
			},
			[]string{"method", "path", "status"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recon_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	m.registry.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.TradesMatched,
		m.BreaksCreated,
		m.BreaksEscalated,
		m.HTTPRequests,
		m.HTTPDuration,
	)

	return m
}

// Handler serves the exposition endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRun counts a finished run and observes its duration.
func (m *Metrics) RecordRun(status string, seconds float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(seconds)
}

// RecordMatches adds matched pairs under one confidence tier.
func (m *Metrics) RecordMatches(confidence string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.TradesMatched.WithLabelValues(confidence).Add(float64(count))
}

// RecordBreaks adds created breaks under one severity.
func (m *Metrics) RecordBreaks(severity string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.BreaksCreated.WithLabelValues(severity).Add(float64(count))
}

// RecordEscalations adds SLA sweep escalations.
func (m *Metrics) RecordEscalations(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.BreaksEscalated.Add(float64(count))
}

// RecordHTTPRequest counts one served request and observes its latency.
// The path label is the mux route template, not the raw URL, to keep
// cardinality bounded.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(seconds)
}
