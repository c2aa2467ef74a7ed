// Package metric exposes schemad's Prometheus metrics. A nil *Metrics is
// valid and records nothing, so components can be built without metrics
// in tests.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schemad"

// Sync states as reported by the sync_state gauge.
const (
	StateBooting = 0
	StateSyncing = 1
	StateReady   = 2
)

// Metrics holds every collector schemad records to.
type Metrics struct {
	registry *prometheus.Registry

	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Schemas           prometheus.Gauge
	SyncMessages      *prometheus.CounterVec
	SyncState         prometheus.Gauge
	ConnectAttempts   prometheus.Counter
	EventsPublished   *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "database",
				Name:      "operations_total",
				Help:      "Database operations by operation name and outcome",
			},
			[]string{"operation", "outcome"},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "database",
				Name:      "operation_duration_seconds",
				Help:      "Database operation latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		Schemas: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "schemas",
			Help:      "Number of schemas currently registered",
		}),

		SyncMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "messages_total",
				Help:      "Schema sync messages by direction and type",
			},
			[]string{"direction", "type"},
		),

		SyncState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "state",
			Help:      "Synchronizer state (0=booting, 1=syncing, 2=ready)",
		}),

		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "connect_attempts_total",
			Help:      "Attempts made to connect to the database",
		}),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "events_published_total",
				Help:      "CRUD events published on the bus, by outcome",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		m.Operations,
		m.OperationDuration,
		m.Schemas,
		m.SyncMessages,
		m.SyncState,
		m.ConnectAttempts,
		m.EventsPublished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation records one facade operation. outcome is "ok" or the
// error kind.
func (m *Metrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SetSchemas records the registry size.
func (m *Metrics) SetSchemas(n int) {
	if m == nil {
		return
	}
	m.Schemas.Set(float64(n))
}

// SyncMessage counts one sync message. direction is "in" or "out".
func (m *Metrics) SyncMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.SyncMessages.WithLabelValues(direction, kind).Inc()
}

// SetSyncState records the synchronizer state.
func (m *Metrics) SetSyncState(state int) {
	if m == nil {
		return
	}
	m.SyncState.Set(float64(state))
}

// ConnectAttempt counts one database connection attempt.
func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.ConnectAttempts.Inc()
}

// EventPublished counts one CRUD event publication.
func (m *Metrics) EventPublished(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EventsPublished.WithLabelValues(outcome).Inc()
}
