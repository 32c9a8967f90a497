package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/krishanraja/mindmaker-sub000/internal/backoff"
	"github.com/krishanraja/mindmaker-sub000/internal/fault"
)

// Metrics provides observability for outbound calls, enrichment and dispatch.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Attempts by operation and outcome (success, retry, terminal)
	Attempts *prometheus.CounterVec

	// Failed attempts by operation and error kind
	Failures *prometheus.CounterVec

	// Backoff sleeps scheduled before a retry
	BackoffSeconds *prometheus.HistogramVec

	// Enrichment results by source (cache, provider, default)
	Resolves *prometheus.CounterVec

	// Notification results by sender and status
	Dispatches *prometheus.CounterVec

	// Token exchanges by result
	CredentialRefreshes *prometheus.CounterVec

	// End-to-end resolve latency
	ResolveLatency prometheus.Histogram
}

// New registers all metrics on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_outbound_attempts_total",
			Help: "Outbound call attempts by operation and outcome",
		}, []string{"op", "outcome"}),

		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_outbound_failures_total",
			Help: "Failed outbound attempts by operation and error kind",
		}, []string{"op", "kind"}),

		BackoffSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enricher_outbound_backoff_seconds",
			Help:    "Backoff delay scheduled before retrying an outbound call",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 30},
		}, []string{"op"}),

		Resolves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_resolves_total",
			Help: "Enrichment resolutions by record source",
		}, []string{"source"}), // source: "cache", "provider", "default"

		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_dispatches_total",
			Help: "Notification dispatches by sender and status",
		}, []string{"sender", "status"}),

		CredentialRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_credential_refreshes_total",
			Help: "Token exchanges by result",
		}, []string{"result"}),

		ResolveLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "enricher_resolve_duration_seconds",
			Help:    "Duration of a full enrichment resolve including cache and provider",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 15, 60},
		}),
	}
}

// ObserveAttempt implements invoke.Observer.
func (m *Metrics) ObserveAttempt(op string, out backoff.Outcome) {
	if m == nil {
		return
	}
	switch {
	case out.Err == nil:
		m.Attempts.WithLabelValues(op, "success").Inc()
	case out.Terminal:
		m.Attempts.WithLabelValues(op, "terminal").Inc()
		m.Failures.WithLabelValues(op, string(fault.KindOf(out.Err))).Inc()
	default:
		m.Attempts.WithLabelValues(op, "retry").Inc()
		m.Failures.WithLabelValues(op, string(fault.KindOf(out.Err))).Inc()
		m.BackoffSeconds.WithLabelValues(op).Observe(out.Delay.Seconds())
	}
}

// RecordResolve counts a resolved record by source.
func (m *Metrics) RecordResolve(source string, d time.Duration) {
	if m != nil {
		m.Resolves.WithLabelValues(source).Inc()
		m.ResolveLatency.Observe(d.Seconds())
	}
}

// RecordDispatch counts a notification outcome.
func (m *Metrics) RecordDispatch(sender string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.Dispatches.WithLabelValues(sender, status).Inc()
}

// RecordCredentialRefresh counts a token exchange.
func (m *Metrics) RecordCredentialRefresh(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(fault.KindOf(err))
	}
	m.CredentialRefreshes.WithLabelValues(result).Inc()
}
