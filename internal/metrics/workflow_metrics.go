package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkflowMetrics records session volume lifecycle signals
type WorkflowMetrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
	retries     *prometheus.CounterVec
	denials     *prometheus.CounterVec
	exports     prometheus.Counter
	live        *prometheus.GaugeVec
}

// NewWorkflowMetrics registers the workflow collectors on a private registry
// together with the Go runtime and process collectors.
func NewWorkflowMetrics() *WorkflowMetrics {
	reg := prometheus.NewRegistry()
	m := &WorkflowMetrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bodyback_volume_transitions_total",
			Help: "Session volume lifecycle transitions.",
		}, []string{"from", "to"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bodyback_volume_conflicts_total",
			Help: "Session volume writes rejected by a storage precondition.",
		}, []string{"kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bodyback_volume_retries_total",
			Help: "Optimistic retries of lifecycle events.",
		}, []string{"event"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bodyback_volume_denials_total",
			Help: "Operations refused by the permission table.",
		}, []string{"operation"}),
		exports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bodyback_period_reports_total",
			Help: "Period reports exported.",
		}),
		live: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bodyback_volumes",
			Help: "Live session volumes by status at the last snapshot.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions, m.conflicts, m.retries, m.denials, m.exports, m.live,
	)
	return m
}

// Transition counts a completed lifecycle edge
func (m *WorkflowMetrics) Transition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

// Conflict counts a write refused by the store
func (m *WorkflowMetrics) Conflict(kind string) {
	m.conflicts.WithLabelValues(kind).Inc()
}

// Retry counts an optimistic retry
func (m *WorkflowMetrics) Retry(event string) {
	m.retries.WithLabelValues(event).Inc()
}

// Denied counts a permission refusal
func (m *WorkflowMetrics) Denied(operation string) {
	m.denials.WithLabelValues(operation).Inc()
}

// ReportExported counts a period report upload
func (m *WorkflowMetrics) ReportExported() {
	m.exports.Inc()
}

// VolumeSnapshot sets the live volume gauge for one status
func (m *WorkflowMetrics) VolumeSnapshot(status string, count int) {
	m.live.WithLabelValues(status).Set(float64(count))
}

// Registry exposes the underlying registry
func (m *WorkflowMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *WorkflowMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
