// Package metrics exposes Prometheus instrumentation for the event lake.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cklose2000/eventlake/pkg/events"
)

// Metrics holds every collector the service registers. One instance is
// created at startup and shared; all collectors are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	EventsRecorded  *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	QueriesTotal    *prometheus.CounterVec
	QueryDuration   prometheus.Histogram
	QueryRows       prometheus.Histogram
	DashboardOps    *prometheus.CounterVec
	ContractDrift   prometheus.Gauge
	SessionsStarted prometheus.Counter
}

// New builds the collector set on a private registry so tests can create
// any number of instances without duplicate registration panics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlake_events_recorded_total",
			Help: "Events handed to the event log client, by action namespace.",
		}, []string{"namespace"}),
		EventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlake_events_rejected_total",
			Help: "Events rejected at the boundary, by error kind.",
		}, []string{"kind"}),
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlake_queries_total",
			Help: "Guarded query executions, by template and outcome.",
		}, []string{"template", "outcome"}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventlake_query_duration_seconds",
			Help:    "Guarded query wall time.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		QueryRows: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventlake_query_rows",
			Help:    "Rows returned per guarded query.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		DashboardOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlake_dashboard_operations_total",
			Help: "Dashboard publishes and rollbacks, by operation and result.",
		}, []string{"operation", "result"}),
		ContractDrift: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eventlake_contract_drift",
			Help: "1 while the contract sentinel reports blocking drift.",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventlake_sessions_started_total",
			Help: "Analytics sessions started.",
		}),
	}
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// InstrumentedRecorder counts events as they pass through to the wrapped
// recorder. It implements events.Recorder so it can sit in front of the
// event log client without the client knowing about metrics.
type InstrumentedRecorder struct {
	next    events.Recorder
	metrics *Metrics
}

// NewInstrumentedRecorder wraps next with event counting.
func NewInstrumentedRecorder(next events.Recorder, m *Metrics) *InstrumentedRecorder {
	return &InstrumentedRecorder{next: next, metrics: m}
}

// Record implements events.Recorder.
func (r *InstrumentedRecorder) Record(e *events.Event) {
	r.metrics.EventsRecorded.WithLabelValues(namespace(e.Action)).Inc()
	r.next.Record(e)
}

func namespace(action string) string {
	for i := 0; i < len(action); i++ {
		if action[i] == '.' {
			return action[:i]
		}
	}
	return action
}
