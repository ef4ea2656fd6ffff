// Copyright 2025 The alloctrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry implements the provenance allocation registry: the keyed
// store mapping each tracked address to its enhanced allocation record.
//
// The registry is one of the engine's three independently locked structures
// (registry, freed-address ledger, violation log). Lock hold time is O(1) per
// event: call-stack capture and logging happen outside the critical section,
// and no registry operation takes another structure's lock.
package registry

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kolkov/alloctrack/internal/track/clock"
	"github.com/kolkov/alloctrack/internal/track/handle"
	"github.com/kolkov/alloctrack/internal/track/memaddr"
	"github.com/kolkov/alloctrack/internal/track/provenance"
	"github.com/kolkov/alloctrack/internal/track/stackdepot"
	"github.com/kolkov/alloctrack/internal/track/tid"
	"github.com/kolkov/alloctrack/internal/track/violation"
)

// AllocationRecord is the enhanced record for one tracked allocation.
//
// A record is created on the first observed allocation event for its address,
// accrues boundary events and violations in place (under the registry lock),
// and leaves the active set once a deallocation is accepted.
type AllocationRecord struct {
	Addr memaddr.Address
	Size uint64

	AllocatedAt clock.Timestamp

	// FreedAt is set by the engine when a deallocation is accepted; nil
	// while the allocation is active.
	FreedAt *clock.Timestamp

	// Prov is the allocation's origin classification.
	Prov provenance.Provenance

	// Stack is the call stack captured when the allocation was recorded.
	Stack *stackdepot.Stack

	// Thread identifies the goroutine that recorded the allocation.
	Thread tid.ID

	// BoundaryEvents accrues boundary crossings, oldest first.
	BoundaryEvents []provenance.BoundaryEvent

	// Violations accrues violations flagged against this allocation.
	Violations []violation.Violation

	// Handle is the smart-handle metadata, nil for plain allocations.
	Handle *handle.SmartHandle
}

// Active reports whether the allocation has not been freed.
func (r *AllocationRecord) Active() bool {
	return r.FreedAt == nil
}

// Age returns the allocation's age relative to now.
func (r *AllocationRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.AllocatedAt.Wall)
}

// Clone returns a deep copy of the record. Snapshots hand out clones so
// analysis never races with in-place accrual.
func (r *AllocationRecord) Clone() *AllocationRecord {
	cp := *r
	if r.FreedAt != nil {
		t := *r.FreedAt
		cp.FreedAt = &t
	}
	cp.BoundaryEvents = append([]provenance.BoundaryEvent(nil), r.BoundaryEvents...)
	cp.Violations = append([]violation.Violation(nil), r.Violations...)
	cp.Handle = r.Handle.Clone()
	return &cp
}

// HandleUpdate is one smart-handle association event from the instrumentation
// collaborator: a handle was created, cloned, or had its counts change.
type HandleUpdate struct {
	Handle memaddr.Address
	Data   memaddr.Address
	Kind   handle.PointerKind

	Strong uint32
	Weak   uint32
	At     clock.Timestamp

	// ClonedFrom is the parent handle when this update describes a clone
	// (memaddr.None otherwise).
	ClonedFrom memaddr.Address

	// Clones optionally lists child handles to merge into the clone list.
	// Used when the instrumentation observed the relationship from the
	// parent's side.
	Clones []memaddr.Address

	// VarName and TypeName are optional source-level labels.
	VarName  string
	TypeName string
}

// Registry is the provenance allocation registry.
//
// Thread Safety: all methods are safe for concurrent use. A single mutex
// protects the map; every critical section is a constant number of map and
// slice operations.
type Registry struct {
	mu      sync.Mutex
	records map[memaddr.Address]*AllocationRecord

	collisions uint64

	logger *zap.Logger
}

// New creates an empty registry. logger must not be nil (use zap.NewNop()).
func New(logger *zap.Logger) *Registry {
	return &Registry{
		records: make(map[memaddr.Address]*AllocationRecord),
		logger:  logger,
	}
}

// Record inserts rec, keyed by its address.
//
// An address collision overwrites the previous record (last write wins) and is
// logged as an anomaly, not treated as an error: the usual cause is an
// allocator reusing an address whose free was never observed.
func (r *Registry) Record(rec *AllocationRecord) (collision bool) {
	r.mu.Lock()
	_, collision = r.records[rec.Addr]
	r.records[rec.Addr] = rec
	if collision {
		r.collisions++
	}
	r.mu.Unlock()

	if collision {
		r.logger.Warn("allocation address collision, overwriting previous record",
			zap.String("addr", rec.Addr.String()),
			zap.Uint64("size", rec.Size))
	}
	return collision
}

// Get returns a deep copy of the record for addr, if present. The copy is
// made under the lock: records accrue boundary events and violations in
// place, so reading one outside the critical section would race.
func (r *Registry) Get(addr memaddr.Address) (*AllocationRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[addr]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Remove deletes and returns the record for addr, if present. Used by the
// deallocation protocol after the ledger check has passed.
func (r *Registry) Remove(addr memaddr.Address) (*AllocationRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[addr]
	if !ok {
		return nil, false
	}
	delete(r.records, addr)
	return rec, true
}

// Len returns the number of active records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Collisions returns the number of address collisions observed.
func (r *Registry) Collisions() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collisions
}

// Snapshot returns deep copies of all active records, ordered by address.
//
// The copies are taken under the registry lock: records accrue boundary
// events, violations and handle history in place, so cloning them unlocked
// would race with that accrual. Callers then analyze the immutable snapshot
// without blocking concurrent tracking. Address order makes repeated analyses
// of an unchanged registry deterministic.
func (r *Registry) Snapshot() []*AllocationRecord {
	r.mu.Lock()
	out := make([]*AllocationRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	r.mu.Unlock()

	// Sorting touches only our copies; no need to hold the lock for it.
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// AppendBoundaryEvent appends ev to the record for addr.
//
// If no record exists the event is dropped and ok is false. This is a
// deliberate no-op, not an error: boundary instrumentation may race with
// deallocation, or the allocation may predate tracking. On success the
// record's provenance is returned so the caller can assess boundary risk
// without a second lookup.
func (r *Registry) AppendBoundaryEvent(addr memaddr.Address, ev provenance.BoundaryEvent) (prov provenance.Provenance, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[addr]
	if !ok {
		return nil, false
	}
	rec.BoundaryEvents = append(rec.BoundaryEvents, ev)
	return rec.Prov, true
}

// AppendViolation flags v against the record for addr, if present.
func (r *Registry) AppendViolation(addr memaddr.Address, v violation.Violation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[addr]
	if !ok {
		return false
	}
	rec.Violations = append(rec.Violations, v)
	return true
}

// Associate applies a smart-handle association event.
//
// The handle metadata on the record at u.Handle is created or updated: the
// count observation is appended to the history, clone relationships are
// merged, and labels are filled in if newly supplied. If no record exists at
// u.Handle a minimal zero-size record is created so handle metadata observed
// before (or instead of) the allocation event still participates in cycle
// analysis; the creation is logged at debug.
//
// When u.ClonedFrom names a parent whose record and handle metadata exist,
// u.Handle is added to the parent's clone list so the relationship is visible
// from both sides.
func (r *Registry) Associate(u HandleUpdate) {
	var created bool

	r.mu.Lock()
	rec, ok := r.records[u.Handle]
	if !ok {
		rec = &AllocationRecord{
			Addr:        u.Handle,
			AllocatedAt: u.At,
			Prov:        provenance.ManagedSafe{},
		}
		r.records[u.Handle] = rec
		created = true
	}

	h := rec.Handle
	if h == nil {
		h = &handle.SmartHandle{
			Handle: u.Handle,
			Data:   u.Data,
			Kind:   u.Kind,
		}
		rec.Handle = h
	}

	if u.Data != memaddr.None {
		h.Data = u.Data
	}
	h.Kind = u.Kind
	if u.ClonedFrom != memaddr.None {
		h.ClonedFrom = u.ClonedFrom
	}
	for _, c := range u.Clones {
		h.AddClone(c)
	}
	if u.VarName != "" {
		h.VarName = u.VarName
	}
	if u.TypeName != "" {
		h.TypeName = u.TypeName
	}
	h.History = append(h.History, handle.CountSnapshot{
		At:     u.At,
		Strong: u.Strong,
		Weak:   u.Weak,
	})

	// Link the relationship from the parent's side too.
	if u.ClonedFrom != memaddr.None {
		if parent, ok := r.records[u.ClonedFrom]; ok && parent.Handle != nil {
			parent.Handle.AddClone(u.Handle)
		}
	}
	r.mu.Unlock()

	if created {
		r.logger.Debug("handle association for untracked address, created placeholder record",
			zap.String("handle", u.Handle.String()),
			zap.String("data", u.Data.String()))
	}
}
