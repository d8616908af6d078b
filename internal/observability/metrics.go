// Package observability exposes Prometheus metrics for board recomputation,
// session lifecycle and live streams.
//
// Metrics are registered on the Registerer passed to NewMetrics, so tests can
// use an isolated prometheus.NewRegistry.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "statboard"

// Metrics holds every statboard collector.
type Metrics struct {
	// RecomputeTotal counts subscription runs.
	// Labels: board, subscription, outcome (applied, suppressed, failed)
	RecomputeTotal *prometheus.CounterVec

	// RecomputeSeconds measures subscription run time.
	// Labels: board, subscription
	RecomputeSeconds *prometheus.HistogramVec

	SessionsActive prometheus.Gauge
	SessionsOpened prometheus.Counter

	// SessionsClosed counts removed sessions.
	// Labels: reason (deleted, expired)
	SessionsClosed *prometheus.CounterVec

	StreamClients prometheus.Gauge

	// RateLimited counts rejected action requests.
	// Labels: board
	RateLimited *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecomputeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "graph",
			Name:      "recompute_total",
			Help:      "Subscription recomputations by board, subscription and outcome",
		}, []string{"board", "subscription", "outcome"}),

		RecomputeSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "graph",
			Name:      "recompute_duration_seconds",
			Help:      "Time spent in one subscription recomputation",
			Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"board", "subscription"}),

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Live sessions",
		}),

		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sessions",
			Name:      "opened_total",
			Help:      "Sessions created",
		}),

		SessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sessions",
			Name:      "closed_total",
			Help:      "Sessions removed by reason",
		}, []string{"reason"}),

		StreamClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Connected server-sent event clients",
		}),

		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Action requests rejected by the per-client rate limit",
		}, []string{"board"}),
	}
}

// ObserveRecompute records one subscription run.
func (m *Metrics) ObserveRecompute(board, subscription, outcome string, d time.Duration) {
	m.RecomputeTotal.WithLabelValues(board, subscription, outcome).Inc()
	m.RecomputeSeconds.WithLabelValues(board, subscription).Observe(d.Seconds())
}

// SessionOpened counts a new session and raises the active gauge.
func (m *Metrics) SessionOpened() {
	m.SessionsOpened.Inc()
	m.SessionsActive.Inc()
}

// SessionClosed counts a session ending for reason (deleted or expired).
func (m *Metrics) SessionClosed(reason string) {
	m.SessionsClosed.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
}

// StreamOpened counts a connected SSE client.
func (m *Metrics) StreamOpened() { m.StreamClients.Inc() }

// StreamClosed releases a client counted by StreamOpened.
func (m *Metrics) StreamClosed() { m.StreamClients.Dec() }

// RateLimitExceeded counts an action click rejected with 429.
func (m *Metrics) RateLimitExceeded(board string) {
	m.RateLimited.WithLabelValues(board).Inc()
}
