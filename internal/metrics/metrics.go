// Package metrics holds the Prometheus collectors of a replica.
//
// Every method is safe on a nil *Metrics, so components take metrics as an
// optional dependency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recsync"

// Apply outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeDominated = "dominated"
	OutcomeRejected  = "rejected"
)

// Metrics holds all Prometheus metrics for one replica.
type Metrics struct {
	registry *prometheus.Registry

	// Merge metrics
	OperationsTotal    *prometheus.CounterVec
	FieldsChangedTotal prometheus.Counter
	ApplyDuration      prometheus.Histogram

	// Clock metrics
	ClockDriftTotal prometheus.Counter

	// Materialization metrics
	MaterializeFailuresTotal prometheus.Counter
	MaterializeQueueDepth    prometheus.Gauge

	// Store metrics
	PersistFailuresTotal prometheus.Counter
	DuplicateOpsTotal    prometheus.Counter

	// Ingest metrics
	IngestQueueDepth *prometheus.GaugeVec
}

// New creates the collectors for nodeID on a fresh registry.
func New(nodeID string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		registry: reg,

		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "merge",
			Name:        "operations_total",
			Help:        "Operations handed to the merge engine, by model, type and outcome",
			ConstLabels: labels,
		}, []string{"model", "type", "outcome"}),
		FieldsChangedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "merge",
			Name:        "fields_changed_total",
			Help:        "Field registers overwritten by accepted operations",
			ConstLabels: labels,
		}),
		ApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "merge",
			Name:        "apply_duration_seconds",
			Help:        "Histogram of merge decision latency",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.000001, 4, 10), // 1us to ~262ms
		}),
		ClockDriftTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "clock",
			Name:        "drift_total",
			Help:        "Remote stamps observed beyond the drift bound",
			ConstLabels: labels,
		}),
		MaterializeFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "materialize",
			Name:        "failures_total",
			Help:        "Change notifications the materializer failed to apply",
			ConstLabels: labels,
		}),
		MaterializeQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "materialize",
			Name:        "queue_depth",
			Help:        "Change notifications waiting for delivery",
			ConstLabels: labels,
		}),
		PersistFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "store",
			Name:        "persist_failures_total",
			Help:        "Merge decisions whose durable commit failed",
			ConstLabels: labels,
		}),
		DuplicateOpsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "store",
			Name:        "duplicate_operations_total",
			Help:        "Operations already present in the durable log",
			ConstLabels: labels,
		}),
		IngestQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "ingest",
			Name:        "queue_depth",
			Help:        "Operations buffered per ingest worker",
			ConstLabels: labels,
		}, []string{"worker"}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveApply records one merge decision.
func (m *Metrics) ObserveApply(model, kind, outcome string, fieldsChanged int, d time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(model, kind, outcome).Inc()
	if fieldsChanged > 0 {
		m.FieldsChangedTotal.Add(float64(fieldsChanged))
	}
	m.ApplyDuration.Observe(d.Seconds())
}

// ClockDrift counts one drifting remote stamp.
func (m *Metrics) ClockDrift() {
	if m == nil {
		return
	}
	m.ClockDriftTotal.Inc()
}

// MaterializeFailed counts one failed delivery.
func (m *Metrics) MaterializeFailed() {
	if m == nil {
		return
	}
	m.MaterializeFailuresTotal.Inc()
}

// SetMaterializeQueueDepth reports the dispatcher backlog.
func (m *Metrics) SetMaterializeQueueDepth(n int) {
	if m == nil {
		return
	}
	m.MaterializeQueueDepth.Set(float64(n))
}

// PersistFailed counts one failed durable commit.
func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.PersistFailuresTotal.Inc()
}

// DuplicateOperation counts one operation the log already held.
func (m *Metrics) DuplicateOperation() {
	if m == nil {
		return
	}
	m.DuplicateOpsTotal.Inc()
}

// SetIngestQueueDepth reports the backlog of one ingest worker.
func (m *Metrics) SetIngestQueueDepth(worker string, n int) {
	if m == nil {
		return
	}
	m.IngestQueueDepth.WithLabelValues(worker).Set(float64(n))
}
