package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay
type Metrics struct {
	// Lifecycle webhook metrics
	LifecycleTotal *prometheus.CounterVec

	// Event queue metrics
	EventsBufferedTotal prometheus.Counter
	EventsDroppedTotal  prometheus.Counter
	EventsDrainedTotal  prometheus.Counter

	// Poll metrics
	PollRequestsTotal *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram

	// Upstream metrics
	UpstreamCallErrors *prometheus.CounterVec

	// Tenant metrics
	TenantsActive prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		LifecycleTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hsws_lifecycle_callbacks_total",
				Help: "Total number of SmartApp lifecycle callbacks processed",
			},
			[]string{"lifecycle", "status"},
		),

		EventsBufferedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hsws_events_buffered_total",
				Help: "Total number of device events buffered",
			},
		),

		EventsDroppedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hsws_events_dropped_total",
				Help: "Total number of device events dropped for unknown tenants",
			},
		),

		EventsDrainedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hsws_events_drained_total",
				Help: "Total number of device events delivered to polling clients",
			},
		),

		PollRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hsws_poll_requests_total",
				Help: "Total number of client poll requests",
			},
			[]string{"status"},
		),

		ReconcileDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hsws_reconcile_duration_seconds",
				Help:    "Duration of subscription reconciliation",
				Buckets: prometheus.DefBuckets,
			},
		),

		UpstreamCallErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hsws_upstream_call_errors_total",
				Help: "Total number of failed SmartThings API calls",
			},
			[]string{"operation"},
		),

		TenantsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hsws_tenants_active",
				Help: "Number of installed application instances",
			},
		),
	}
}

// RecordLifecycle records a processed lifecycle callback
func (m *Metrics) RecordLifecycle(lifecycle, status string) {
	m.LifecycleTotal.WithLabelValues(lifecycle, status).Inc()
}

// RecordPoll records a client poll request
func (m *Metrics) RecordPoll(status string) {
	m.PollRequestsTotal.WithLabelValues(status).Inc()
}

// RecordReconcile records the duration of a reconciliation
func (m *Metrics) RecordReconcile(seconds float64) {
	m.ReconcileDuration.Observe(seconds)
}

// RecordUpstreamError records a failed SmartThings API call
func (m *Metrics) RecordUpstreamError(operation string) {
	m.UpstreamCallErrors.WithLabelValues(operation).Inc()
}

// UpdateTenantsActive updates the installed-apps gauge
func (m *Metrics) UpdateTenantsActive(count int64) {
	m.TenantsActive.Set(float64(count))
}
