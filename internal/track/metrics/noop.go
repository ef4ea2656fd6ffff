package metrics

// NoopCollector discards all metrics. It is the default collector when the
// engine is constructed without one.
type NoopCollector struct{}

// NewNoop creates a no-op collector.
func NewNoop() *NoopCollector {
	return &NoopCollector{}
}

// RecordOperation does nothing.
func (*NoopCollector) RecordOperation(operation, status string) {}

// RecordViolation does nothing.
func (*NoopCollector) RecordViolation(kind string) {}

// RecordBoundaryEvent does nothing.
func (*NoopCollector) RecordBoundaryEvent(kind string) {}

// SetActiveAllocations does nothing.
func (*NoopCollector) SetActiveAllocations(n int) {}

// SetLedgerSize does nothing.
func (*NoopCollector) SetLedgerSize(n int) {}

// ObserveAnalysisDuration does nothing.
func (*NoopCollector) ObserveAnalysisDuration(seconds float64) {}
