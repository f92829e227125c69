// datastore.go provides Prometheus metrics for database operations.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains Prometheus metrics for datastore operations
type DatastoreMetrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	snapshotsTotal    prometheus.Counter
}

// NewDatastoreMetrics creates and registers new datastore metrics
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize datastore metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

func (m *DatastoreMetrics) initMetrics() error {
	m.operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datastore_operations_total",
		Help: "Total number of datastore operations by type and status",
	}, []string{"operation", "status"})

	m.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datastore_operation_duration_seconds",
		Help:    "Time taken for datastore operations",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
	}, []string{"operation"})

	m.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datastore_errors_total",
		Help: "Total number of datastore errors by operation",
	}, []string{"operation"})

	m.snapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datastore_stats_snapshots_total",
		Help: "Total number of pipeline statistics snapshots persisted",
	})

	return nil
}

// Describe implements the prometheus.Collector interface
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.snapshotsTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.snapshotsTotal.Collect(ch)
}

// RecordOperation records a datastore operation outcome with its duration
func (m *DatastoreMetrics) RecordOperation(operation, status string, durationSeconds float64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordError increments the error counter for an operation
func (m *DatastoreMetrics) RecordError(operation string) {
	m.errorsTotal.WithLabelValues(operation).Inc()
}

// RecordSnapshot increments the persisted snapshot counter
func (m *DatastoreMetrics) RecordSnapshot() {
	m.snapshotsTotal.Inc()
}
