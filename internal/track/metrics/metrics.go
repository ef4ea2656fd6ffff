// Package metrics provides metrics collection for tracking operations.
//
// The engine records against the Collector interface; the Prometheus-backed
// collector and the no-op collector both implement it, so metrics are a
// construction-time choice rather than a build-time one.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector is the interface for engine metrics collection.
type Collector interface {
	// RecordOperation counts one tracking operation by name and outcome
	// ("ok", "double_free", "invalid_free", "dropped").
	RecordOperation(operation, status string)

	// RecordViolation counts one detected violation by kind label.
	RecordViolation(kind string)

	// RecordBoundaryEvent counts one boundary crossing by kind label.
	RecordBoundaryEvent(kind string)

	// SetActiveAllocations gauges the registry's active record count.
	SetActiveAllocations(n int)

	// SetLedgerSize gauges the freed-address ledger's entry count.
	SetLedgerSize(n int)

	// ObserveAnalysisDuration records one analysis pass duration in seconds.
	ObserveAnalysisDuration(seconds float64)
}

// PrometheusCollector is the Prometheus-backed Collector.
type PrometheusCollector struct {
	operationsTotal     *prometheus.CounterVec
	violationsTotal     *prometheus.CounterVec
	boundaryEventsTotal *prometheus.CounterVec
	activeAllocations   prometheus.Gauge
	ledgerSize          prometheus.Gauge
	analysisDuration    prometheus.Histogram
	registry            *prometheus.Registry
}

// NewPrometheus creates a collector with its own Prometheus registry.
func NewPrometheus() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alloctrack_operations_total",
			Help: "Total tracking operations by type and status",
		},
		[]string{"operation", "status"},
	)

	violationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alloctrack_violations_total",
			Help: "Total safety violations detected, by kind",
		},
		[]string{"kind"},
	)

	boundaryEventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alloctrack_boundary_events_total",
			Help: "Total boundary-crossing events recorded, by kind",
		},
		[]string{"kind"},
	)

	activeAllocations := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alloctrack_active_allocations",
		Help: "Current number of active tracked allocations",
	})

	ledgerSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alloctrack_freed_ledger_entries",
		Help: "Current number of freed-address ledger entries",
	})

	analysisDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "alloctrack_analysis_duration_seconds",
		Help:    "Duration of circular-reference analysis passes",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
	})

	registry.MustRegister(operationsTotal)
	registry.MustRegister(violationsTotal)
	registry.MustRegister(boundaryEventsTotal)
	registry.MustRegister(activeAllocations)
	registry.MustRegister(ledgerSize)
	registry.MustRegister(analysisDuration)

	return &PrometheusCollector{
		operationsTotal:     operationsTotal,
		violationsTotal:     violationsTotal,
		boundaryEventsTotal: boundaryEventsTotal,
		activeAllocations:   activeAllocations,
		ledgerSize:          ledgerSize,
		analysisDuration:    analysisDuration,
		registry:            registry,
	}
}

// Registry exposes the underlying Prometheus registry so callers can mount it
// on their own scrape handler.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordOperation implements Collector.
func (c *PrometheusCollector) RecordOperation(operation, status string) {
	c.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordViolation implements Collector.
func (c *PrometheusCollector) RecordViolation(kind string) {
	c.violationsTotal.WithLabelValues(kind).Inc()
}

// RecordBoundaryEvent implements Collector.
func (c *PrometheusCollector) RecordBoundaryEvent(kind string) {
	c.boundaryEventsTotal.WithLabelValues(kind).Inc()
}

// SetActiveAllocations implements Collector.
func (c *PrometheusCollector) SetActiveAllocations(n int) {
	c.activeAllocations.Set(float64(n))
}

// SetLedgerSize implements Collector.
func (c *PrometheusCollector) SetLedgerSize(n int) {
	c.ledgerSize.Set(float64(n))
}

// ObserveAnalysisDuration implements Collector.
func (c *PrometheusCollector) ObserveAnalysisDuration(seconds float64) {
	c.analysisDuration.Observe(seconds)
}
