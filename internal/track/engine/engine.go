// Copyright 2025 The alloctrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package engine wires the allocation registry, freed-address ledger,
// violation log, stack depot and analysis pipeline into one explicit engine
// object.
//
// The engine owns no global state: callers construct and hold an instance, so
// independent engines coexist for isolated testing. Tracking operations
// (RecordAllocation, RecordDeallocation, RecordBoundaryEvent, Associate) are
// the hot path and are safe for concurrent use; analysis operations
// (DetectLeaks, DetectCircularReferences) snapshot under the registry lock
// and run against the immutable copy.
package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kolkov/alloctrack/internal/track/clock"
	"github.com/kolkov/alloctrack/internal/track/config"
	"github.com/kolkov/alloctrack/internal/track/ledger"
	"github.com/kolkov/alloctrack/internal/track/memaddr"
	"github.com/kolkov/alloctrack/internal/track/metrics"
	"github.com/kolkov/alloctrack/internal/track/provenance"
	"github.com/kolkov/alloctrack/internal/track/refgraph"
	"github.com/kolkov/alloctrack/internal/track/registry"
	"github.com/kolkov/alloctrack/internal/track/stackdepot"
	"github.com/kolkov/alloctrack/internal/track/tid"
	"github.com/kolkov/alloctrack/internal/track/violation"
)

// Error taxonomy for the deallocation protocol. Violation detection itself
// always succeeds and is logged; these errors additionally tell the immediate
// caller that its free was unsafe. The caller must treat the error as "the
// free still physically happened": the engine observes, it cannot block.
var (
	// ErrMemoryCorruption is returned for a double free.
	ErrMemoryCorruption = errors.New("memory corruption: double free")

	// ErrInvalidPointer is returned for a free of a never-tracked address.
	ErrInvalidPointer = errors.New("invalid pointer: free of untracked address")
)

// Stats are the engine's lifetime counters.
type Stats struct {
	Allocations   uint64
	Deallocations uint64
	Collisions    uint64

	// DroppedBoundaryEvents counts boundary events whose address had no
	// active record.
	DroppedBoundaryEvents uint64

	ActiveAllocations int
	LedgerEntries     int
	Violations        int
}

// Engine is the memory-safety analysis engine.
type Engine struct {
	cfg       config.Config
	logger    *zap.Logger
	collector metrics.Collector

	clock      *clock.Clock
	depot      *stackdepot.Depot
	registry   *registry.Registry
	ledger     *ledger.Ledger
	violations *violation.Log

	allocations     atomic.Uint64
	deallocations   atomic.Uint64
	droppedBoundary atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's structured logger (default zap.NewNop()).
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the engine's metrics collector (default no-op).
func WithMetrics(c metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// WithClock sets the engine's clock. Tests inject a clock with a controlled
// wall-time source to exercise leak ages deterministically.
func WithClock(c *clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New creates an engine with the given configuration.
func New(cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		logger:    zap.NewNop(),
		collector: metrics.NewNoop(),
		clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.depot = stackdepot.New(cfg.MaxStackFrames, cfg.UncheckedPrefixes)
	e.registry = registry.New(e.logger)
	e.ledger = ledger.New(cfg.FreedLedgerCap)
	e.violations = violation.NewLog()
	return e
}

// Config returns the engine's configuration.
func (e *Engine) Config() config.Config {
	return e.cfg
}

// RecordAllocation records an intercepted allocation.
//
// The call stack (capped depth) and a logical timestamp are captured before
// any lock is taken. An address collision overwrites the previous record and
// is logged as an anomaly, never an error. Any stale freed-ledger entry for
// the address is cleared: the allocator has recycled it, so a future free
// must not be misread as a double free.
func (e *Engine) RecordAllocation(addr memaddr.Address, size uint64, prov provenance.Provenance) {
	stack := e.depot.Capture(1)
	ts := e.clock.Now()
	thread := tid.Current()

	if prov == nil {
		prov = provenance.ManagedSafe{}
	}

	e.ledger.Remove(addr)
	e.registry.Record(&registry.AllocationRecord{
		Addr:        addr,
		Size:        size,
		AllocatedAt: ts,
		Prov:        prov,
		Stack:       stack,
		Thread:      thread,
	})

	e.allocations.Add(1)
	e.collector.RecordOperation("record_allocation", "ok")
	e.collector.SetActiveAllocations(e.registry.Len())
	e.collector.SetLedgerSize(e.ledger.Len())
}

// RecordDeallocation records an intercepted free.
//
// Protocol (strict order — a ledger hit must always win over a registry
// miss, because an address can legitimately sit in the ledger while absent
// from the registry):
//  1. Capture stack and timestamp (outside all locks).
//  2. Ledger hit -> DoubleFree violation, ErrMemoryCorruption. Registry and
//     ledger are left unmodified beyond violation logging.
//  3. Registry miss -> InvalidFree violation, ErrInvalidPointer.
//  4. Otherwise remove the record, mark it freed, insert the ledger entry.
//
// Only one structure's lock is held at a time, each for a single lookup or
// update.
func (e *Engine) RecordDeallocation(addr memaddr.Address) error {
	stack := e.depot.Capture(1)
	ts := e.clock.Now()
	thread := tid.Current()

	if first, hit := e.ledger.Lookup(addr); hit {
		e.recordViolation(violation.DoubleFree{
			Addr:       addr,
			FirstFree:  first.Stack,
			SecondFree: stack,
			At:         ts,
		}, memaddr.None)
		e.collector.RecordOperation("record_deallocation", "double_free")
		return fmt.Errorf("%w at %s", ErrMemoryCorruption, addr)
	}

	rec, ok := e.registry.Remove(addr)
	if !ok {
		e.recordViolation(violation.InvalidFree{
			Addr:  addr,
			Stack: stack,
			At:    ts,
		}, memaddr.None)
		e.collector.RecordOperation("record_deallocation", "invalid_free")
		return fmt.Errorf("%w at %s", ErrInvalidPointer, addr)
	}

	rec.FreedAt = &ts
	evicted := e.ledger.Record(ledger.FreeRecord{
		Addr:   addr,
		Stack:  stack,
		At:     ts,
		Thread: thread,
	})
	if evicted != memaddr.None {
		e.logger.Debug("freed-ledger retention cap reached, evicted oldest entry",
			zap.String("addr", evicted.String()))
	}

	e.deallocations.Add(1)
	e.collector.RecordOperation("record_deallocation", "ok")
	e.collector.SetActiveAllocations(e.registry.Len())
	e.collector.SetLedgerSize(e.ledger.Len())
	return nil
}

// RecordBoundaryEvent records a boundary crossing for addr.
//
// If no active record exists the event is silently dropped: boundary
// instrumentation may race with deallocation, or the allocation may predate
// tracking. When risk assessment is enabled, risky crossing patterns
// additionally produce a CrossBoundaryRisk violation.
func (e *Engine) RecordBoundaryEvent(addr memaddr.Address, kind provenance.EventKind, fromContext, toContext string) {
	stack := e.depot.Capture(1)
	ts := e.clock.Now()

	ev := provenance.BoundaryEvent{
		Kind:        kind,
		At:          ts,
		FromContext: fromContext,
		ToContext:   toContext,
		Stack:       stack,
		Thread:      tid.Current(),
	}

	prov, ok := e.registry.AppendBoundaryEvent(addr, ev)
	if !ok {
		e.droppedBoundary.Add(1)
		e.collector.RecordOperation("record_boundary_event", "dropped")
		return
	}

	e.collector.RecordOperation("record_boundary_event", "ok")
	e.collector.RecordBoundaryEvent(kind.String())

	if e.cfg.AssessBoundaryRisk {
		if v, risky := assessBoundaryRisk(addr, prov, ev); risky {
			e.recordViolation(v, addr)
		}
	}
}

// Associate applies a smart-handle association event from the
// instrumentation collaborator.
func (e *Engine) Associate(u registry.HandleUpdate) {
	if u.At.IsZero() {
		u.At = e.clock.Now()
	}
	e.registry.Associate(u)
	e.collector.RecordOperation("associate_handle", "ok")
}

// Violations returns a copy of the violation log in record order.
func (e *Engine) Violations() []violation.Violation {
	return e.violations.Snapshot()
}

// Allocations returns deep copies of all active allocation records, ordered
// by address. Two calls with no intervening tracking calls return equal
// results.
func (e *Engine) Allocations() []*registry.AllocationRecord {
	return e.registry.Snapshot()
}

// Allocation returns a deep copy of the active record for addr, if present.
func (e *Engine) Allocation(addr memaddr.Address) (*registry.AllocationRecord, bool) {
	return e.registry.Get(addr)
}

// DetectLeaks scans the active allocation set for records older than
// threshold (the configured default when threshold <= 0).
//
// Advisory: mutates nothing, never fails, and does not append to the
// violation log — repeated scans would otherwise spam it with duplicates of
// long-lived allocations. An empty result means no allocation currently
// exceeds the threshold.
func (e *Engine) DetectLeaks(threshold time.Duration) []violation.Violation {
	if threshold <= 0 {
		threshold = e.cfg.LeakAgeThreshold
	}

	snapshot := e.registry.Snapshot()
	now := e.clock.WallNow()
	detected := e.clock.Now()

	var leaks []violation.Violation
	for _, rec := range snapshot {
		if !rec.Active() || rec.Age(now) <= threshold {
			continue
		}
		leaks = append(leaks, violation.PotentialLeak{
			Addr:        rec.Addr,
			Size:        rec.Size,
			AllocStack:  rec.Stack,
			AllocatedAt: rec.AllocatedAt,
			DetectedAt:  detected,
		})
	}
	return leaks
}

// DetectCircularReferences snapshots the registry and runs the reference
// graph builder, cycle detector and cycle analyzer against the snapshot.
func (e *Engine) DetectCircularReferences() *refgraph.Analysis {
	return e.AnalyzeSnapshot(e.registry.Snapshot())
}

// AnalyzeSnapshot runs circular-reference analysis over a caller-supplied
// allocation snapshot. The snapshot is not mutated.
func (e *Engine) AnalyzeSnapshot(snapshot []*registry.AllocationRecord) *refgraph.Analysis {
	start := time.Now()

	g := refgraph.Build(snapshot)
	cycles := g.FindCycles()
	analysis := refgraph.Analyze(g, cycles, refgraph.Thresholds{
		CriticalBytes: e.cfg.SeverityCriticalBytes,
		HighBytes:     e.cfg.SeverityHighBytes,
		MediumBytes:   e.cfg.SeverityMediumBytes,
	}, e.clock.Now())

	e.collector.ObserveAnalysisDuration(time.Since(start).Seconds())
	e.logger.Debug("circular-reference analysis complete",
		zap.String("report_id", analysis.ID.String()),
		zap.Int("smart_handles", analysis.TotalSmartHandles),
		zap.Int("cycles", len(analysis.CircularReferences)),
		zap.Uint64("leaked_bytes", analysis.TotalLeakedBytes))
	return analysis
}

// Stats returns the engine's lifetime counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Allocations:           e.allocations.Load(),
		Deallocations:         e.deallocations.Load(),
		Collisions:            e.registry.Collisions(),
		DroppedBoundaryEvents: e.droppedBoundary.Load(),
		ActiveAllocations:     e.registry.Len(),
		LedgerEntries:         e.ledger.Len(),
		Violations:            e.violations.Len(),
	}
}

// StackStats returns depot statistics: unique stacks stored and approximate
// bytes held.
func (e *Engine) StackStats() (uniqueStacks int, approxBytes int64) {
	return e.depot.Stats()
}

// recordViolation appends v to the log, flags it against the record at addr
// (when addr is not None and the record is still active), counts it, and
// logs the first occurrence per dedup key.
func (e *Engine) recordViolation(v violation.Violation, addr memaddr.Address) {
	firstSeen := e.violations.Append(v)
	if addr != memaddr.None {
		e.registry.AppendViolation(addr, v)
	}
	e.collector.RecordViolation(v.Kind().String())

	if firstSeen {
		e.logger.Warn("safety violation detected",
			zap.String("kind", v.Kind().String()),
			zap.String("dedup_key", v.DedupKey()))
	}
}

// assessBoundaryRisk applies the boundary risk heuristic:
//
//   - ownership transferred across a boundary on a native-call allocation:
//     two runtimes may now both believe they own the memory (High);
//   - shared access to an allocation of native or unchecked provenance: the
//     payload is visible on both sides of the safety boundary without an
//     ownership handoff (Medium).
func assessBoundaryRisk(addr memaddr.Address, prov provenance.Provenance, ev provenance.BoundaryEvent) (violation.Violation, bool) {
	switch ev.Kind {
	case provenance.OwnershipTransfer:
		if prov.Kind() == provenance.KindNativeCall {
			return violation.CrossBoundaryRisk{
				Addr:  addr,
				Level: violation.RiskHigh,
				Description: fmt.Sprintf(
					"ownership of native-call allocation transferred %s -> %s",
					ev.FromContext, ev.ToContext),
				Stack: ev.Stack,
				At:    ev.At,
			}, true
		}
	case provenance.SharedAccess:
		if k := prov.Kind(); k == provenance.KindNativeCall || k == provenance.KindUncheckedRegion {
			return violation.CrossBoundaryRisk{
				Addr:  addr,
				Level: violation.RiskMedium,
				Description: fmt.Sprintf(
					"shared access to %s allocation across %s -> %s",
					k, ev.FromContext, ev.ToContext),
				Stack: ev.Stack,
				At:    ev.At,
			}, true
		}
	}
	return nil, false
}
