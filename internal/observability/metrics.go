package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Forward targets.
const (
	TargetPBX        = "pbx"
	TargetEngagement = "engagement"
)

// Metrics collects relay counters. A nil *Metrics is valid and records nothing,
// so services can be constructed without metrics in tests.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.ObserveForward(observability.TargetPBX, start, err)
type Metrics struct {
	registry *prometheus.Registry

	// ForwardCounter counts forwarding attempts.
	// Labels: target (pbx|engagement), status (success|error)
	ForwardCounter *prometheus.CounterVec

	// ForwardDuration measures forwarding latency in seconds.
	// Labels: target
	ForwardDuration *prometheus.HistogramVec

	// ActiveSessions tracks the size of the session store.
	ActiveSessions prometheus.Gauge

	// SessionsStarted counts chats opened by the engagement platform.
	SessionsStarted prometheus.Counter

	// SessionsClosed counts sessions evicted by reconciliation.
	SessionsClosed prometheus.Counter

	// ReconcilePasses counts completed reconciliation sweeps.
	ReconcilePasses prometheus.Counter

	// OracleErrors counts failed status lookups.
	OracleErrors prometheus.Counter
}

// NewMetrics creates the relay metrics and registers them on registry.
// A nil registry gets a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		ForwardCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_relay_forwards_total",
				Help: "Total number of forwarded messages by target and status",
			},
			[]string{"target", "status"},
		),

		ForwardDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_relay_forward_duration_seconds",
				Help:    "Duration of forwarding calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15},
			},
			[]string{"target"},
		),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_relay_active_sessions",
			Help: "Number of sessions currently held by the relay",
		}),

		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_relay_sessions_started_total",
			Help: "Total number of chats started by the engagement platform",
		}),

		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_relay_sessions_closed_total",
			Help: "Total number of sessions removed by reconciliation",
		}),

		ReconcilePasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_relay_reconcile_passes_total",
			Help: "Total number of reconciliation sweeps",
		}),

		OracleErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_relay_oracle_errors_total",
			Help: "Total number of failed status oracle lookups",
		}),
	}
}

// ObserveForward records one forwarding attempt started at start.
func (m *Metrics) ObserveForward(target string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ForwardCounter.WithLabelValues(target, status).Inc()
	m.ForwardDuration.WithLabelValues(target).Observe(time.Since(start).Seconds())
}

// SetActiveSessions updates the active session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// SessionStarted increments the started counter.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// SessionClosed increments the closed counter.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsClosed.Inc()
}

// ReconcilePass increments the sweep counter.
func (m *Metrics) ReconcilePass() {
	if m == nil {
		return
	}
	m.ReconcilePasses.Inc()
}

// OracleError increments the oracle failure counter.
func (m *Metrics) OracleError() {
	if m == nil {
		return
	}
	m.OracleErrors.Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
