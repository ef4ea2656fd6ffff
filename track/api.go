// Package track provides the public API for the memory-safety analysis engine.
//
// See doc.go for detailed documentation and examples.
package track

import (
	"time"

	"go.uber.org/zap"

	"github.com/kolkov/alloctrack/internal/track/config"
	"github.com/kolkov/alloctrack/internal/track/engine"
	"github.com/kolkov/alloctrack/internal/track/memaddr"
	"github.com/kolkov/alloctrack/internal/track/metrics"
	"github.com/kolkov/alloctrack/internal/track/provenance"
	"github.com/kolkov/alloctrack/internal/track/refgraph"
	"github.com/kolkov/alloctrack/internal/track/registry"
	"github.com/kolkov/alloctrack/internal/track/violation"
)

// Address identifies a tracked memory allocation.
type Address = memaddr.Address

// None is the zero Address; it never identifies a tracked allocation.
const None = memaddr.None

// Re-exported analysis and reporting types. The engine's internal packages
// define them; the facade exposes them so callers never import internal/.
type (
	// Config holds engine tuning knobs. See DefaultConfig and LoadConfig.
	Config = config.Config

	// Provenance records how an allocation came to exist.
	Provenance = provenance.Provenance

	// EventKind classifies a boundary-crossing event.
	EventKind = provenance.EventKind

	// Violation is one detected memory-safety violation.
	Violation = violation.Violation

	// AllocationRecord is the full provenance record of one allocation.
	AllocationRecord = registry.AllocationRecord

	// HandleUpdate is one smart-handle association event.
	HandleUpdate = registry.HandleUpdate

	// Analysis is a circular-reference analysis report.
	Analysis = refgraph.Analysis

	// CircularReference is one analyzed ownership cycle.
	CircularReference = refgraph.CircularReference

	// Stats are the engine's lifetime counters.
	Stats = engine.Stats
)

// Provenance constructors.
var (
	// ManagedSafe marks an allocation made by ordinary managed code.
	ManagedSafe Provenance = provenance.ManagedSafe{}
)

// Boundary event kinds.
const (
	ManagedToNative   = provenance.ManagedToNative
	NativeToManaged   = provenance.NativeToManaged
	OwnershipTransfer = provenance.OwnershipTransfer
	SharedAccess      = provenance.SharedAccess
)

// Errors returned by Tracker.RecordDeallocation.
var (
	// ErrMemoryCorruption reports a double free.
	ErrMemoryCorruption = engine.ErrMemoryCorruption

	// ErrInvalidPointer reports a free of a never-tracked address.
	ErrInvalidPointer = engine.ErrInvalidPointer
)

// Tracker is an instance of the memory-safety analysis engine.
//
// All tracking methods are safe for concurrent use. Construct independent
// trackers for isolated workloads; there is no global state.
type Tracker struct {
	e *engine.Engine
}

// Option configures a Tracker.
type Option func(*options)

type options struct {
	engineOpts []engine.Option
}

// WithLogger routes the tracker's structured logs to logger. Without this
// option the tracker is silent.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithLogger(logger))
	}
}

// WithPrometheus attaches a Prometheus-backed metrics collector and returns
// it alongside the option so the caller can mount its registry on a scrape
// handler:
//
//	collector, opt := track.WithPrometheus()
//	t := track.New(track.DefaultConfig(), opt)
//	http.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
func WithPrometheus() (*metrics.PrometheusCollector, Option) {
	c := metrics.NewPrometheus()
	return c, func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithMetrics(c))
	}
}

// DefaultConfig returns the built-in engine configuration.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig builds a Config from defaults, an optional YAML file, and
// ALLOCTRACK_* environment variables, in ascending precedence. configPath
// may be empty.
func LoadConfig(configPath string) (Config, error) {
	return config.Load(configPath)
}

// New creates a tracker with the given configuration.
func New(cfg Config, opts ...Option) *Tracker {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Tracker{e: engine.New(cfg, o.engineOpts...)}
}

// UncheckedRegion returns provenance for an allocation made inside a
// manually-verified unsafe region. location is a source label such as
// "codec/decode.go:114". The current call stack is not captured here; the
// engine captures it when the allocation is recorded.
func UncheckedRegion(location string) Provenance {
	return provenance.UncheckedRegion{Location: location}
}

// NativeCall returns provenance for an allocation made by a native library
// call, for example NativeCall("libssl", "SSL_new").
func NativeCall(library, function string) Provenance {
	return provenance.NativeCall{Library: library, Function: function}
}

// RecordAllocation records an intercepted allocation of size bytes at addr.
// prov may be nil, meaning ManagedSafe. An address collision (allocation at
// an address already active) overwrites the previous record and is counted,
// never treated as an error.
func (t *Tracker) RecordAllocation(addr Address, size uint64, prov Provenance) {
	t.e.RecordAllocation(addr, size, prov)
}

// RecordDeallocation records an intercepted free of addr.
//
// A second free of an address whose first free is still in the freed ledger
// returns ErrMemoryCorruption; a free of a never-tracked address returns
// ErrInvalidPointer. Both cases also append a violation to the log. A nil
// return means the free was consistent and the address moved from the active
// set to the freed ledger.
func (t *Tracker) RecordDeallocation(addr Address) error {
	return t.e.RecordDeallocation(addr)
}

// RecordBoundaryEvent records a safety-boundary crossing for addr, for
// example a managed pointer handed to native code. Events for unknown
// addresses are dropped silently.
func (t *Tracker) RecordBoundaryEvent(addr Address, kind EventKind, fromContext, toContext string) {
	t.e.RecordBoundaryEvent(addr, kind, fromContext, toContext)
}

// Associate applies a smart-handle association event: it links the handle
// allocation at u.Handle to its owned data, records a reference-count
// snapshot, and wires clone relationships for cycle detection.
func (t *Tracker) Associate(u HandleUpdate) {
	t.e.Associate(u)
}

// Violations returns a copy of the violation log in detection order.
func (t *Tracker) Violations() []Violation {
	return t.e.Violations()
}

// Allocations returns deep copies of all active allocation records, ordered
// by address.
func (t *Tracker) Allocations() []*AllocationRecord {
	return t.e.Allocations()
}

// Allocation returns a deep copy of the active record for addr, if present.
func (t *Tracker) Allocation(addr Address) (*AllocationRecord, bool) {
	return t.e.Allocation(addr)
}

// DetectLeaks reports active allocations older than threshold (the
// configured default when threshold <= 0). The scan is advisory: it mutates
// nothing and its findings are not added to the violation log.
func (t *Tracker) DetectLeaks(threshold time.Duration) []Violation {
	return t.e.DetectLeaks(threshold)
}

// DetectCircularReferences analyzes the current allocation set for ownership
// cycles among reference-counted smart handles and returns a structured
// report with severity grades and cycle-breaking suggestions.
func (t *Tracker) DetectCircularReferences() *Analysis {
	return t.e.DetectCircularReferences()
}

// AnalyzeSnapshot runs circular-reference analysis over a caller-supplied
// allocation snapshot (as returned by Allocations), so a reporting
// collaborator can analyze a set it captured earlier. The snapshot is not
// mutated.
func (t *Tracker) AnalyzeSnapshot(snapshot []*AllocationRecord) *Analysis {
	return t.e.AnalyzeSnapshot(snapshot)
}

// Stats returns the tracker's lifetime counters.
func (t *Tracker) Stats() Stats {
	return t.e.Stats()
}
