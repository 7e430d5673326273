// Package metrics provides Prometheus metrics collection for the core.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the control plane.
type Metrics struct {
	// Event bus metrics
	EventsPublished *prometheus.CounterVec
	HandlerFaults   *prometheus.CounterVec

	// Invariant engine metrics
	InvariantChecks     prometheus.Counter
	InvariantViolations *prometheus.CounterVec

	// Governor metrics
	TokensIssued   prometheus.Counter
	TokensDenied   *prometheus.CounterVec
	TokensRevoked  prometheus.Counter
	TokensExpired  prometheus.Counter
	CPUReserved    prometheus.Gauge
	MemoryReserved prometheus.Gauge
	TasksFinished  *prometheus.CounterVec
	QueueDepth     prometheus.Gauge

	// Loader metrics
	BootDuration prometheus.Histogram
	PluginState  *prometheus.GaugeVec
}

// New creates a Metrics instance registered on the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance with a custom registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_events_published_total",
				Help: "Total events published on the bus by top-level namespace",
			},
			[]string{"namespace"},
		),
		HandlerFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_handler_faults_total",
				Help: "Total event handler faults swallowed by the bus",
			},
			[]string{"namespace"},
		),
		InvariantChecks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "core_invariant_checks_total",
				Help: "Total invariant engine check evaluations",
			},
		),
		InvariantViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_invariant_violations_total",
				Help: "Total invariant violations by invariant name",
			},
			[]string{"invariant"},
		),
		TokensIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "governor_tokens_issued_total",
				Help: "Total execution tokens issued",
			},
		),
		TokensDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_tokens_denied_total",
				Help: "Total token requests denied by policy or budget",
			},
			[]string{"reason"},
		),
		TokensRevoked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "governor_tokens_revoked_total",
				Help: "Total execution tokens revoked",
			},
		),
		TokensExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "governor_tokens_expired_total",
				Help: "Total execution tokens observed expired on validation",
			},
		),
		CPUReserved: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "governor_cpu_millis_reserved",
				Help: "CPU millis reserved by currently active tokens",
			},
		),
		MemoryReserved: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "governor_memory_bytes_reserved",
				Help: "Memory bytes reserved by currently active tokens",
			},
		),
		TasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_tasks_finished_total",
				Help: "Total tasks by terminal status",
			},
			[]string{"status"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "governor_queue_depth",
				Help: "Current build queue depth",
			},
		),
		BootDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "core_boot_duration_seconds",
				Help:    "Core loader boot duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		PluginState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "core_plugin_state",
				Help: "Plugin lifecycle state (1 for the current state)",
			},
			[]string{"plugin", "state"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.EventsPublished,
			m.HandlerFaults,
			m.InvariantChecks,
			m.InvariantViolations,
			m.TokensIssued,
			m.TokensDenied,
			m.TokensRevoked,
			m.TokensExpired,
			m.CPUReserved,
			m.MemoryReserved,
			m.TasksFinished,
			m.QueueDepth,
			m.BootDuration,
			m.PluginState,
		)
	}

	return m
}

// Namespace extracts the top-level namespace from a dot-delimited topic.
func Namespace(topic string) string {
	if i := strings.IndexByte(topic, '.'); i > 0 {
		return topic[:i]
	}
	return topic
}
