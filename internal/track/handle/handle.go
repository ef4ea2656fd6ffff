// Package handle models reference-counted smart-handle metadata attached to
// tracked allocations.
//
// A smart handle is an address-sized token for a reference-counted owner (or
// weak observer) of some shared payload. The instrumentation collaborator
// reports handle creation, cloning and count changes; this package only holds
// the resulting metadata. Graph construction over handles lives in refgraph.
package handle

import (
	"fmt"

	"github.com/kolkov/alloctrack/internal/track/clock"
	"github.com/kolkov/alloctrack/internal/track/memaddr"
)

// PointerKind classifies a smart handle. Two families of strong handles exist
// (A and B), each with a weak counterpart; UniqueOwner is the sole-ownership
// kind with no weak counterpart.
type PointerKind int

const (
	UniqueOwner PointerKind = iota
	SharedStrongA
	SharedStrongB
	WeakOfA
	WeakOfB
)

// String returns the kind's report label.
func (k PointerKind) String() string {
	switch k {
	case UniqueOwner:
		return "unique-owner"
	case SharedStrongA:
		return "shared-strong-a"
	case SharedStrongB:
		return "shared-strong-b"
	case WeakOfA:
		return "weak-of-a"
	case WeakOfB:
		return "weak-of-b"
	default:
		return fmt.Sprintf("pointer-kind(%d)", int(k))
	}
}

// IsWeak reports whether the kind is a non-owning (weak) handle kind.
// Weak handles never appear as reference-graph nodes.
func (k PointerKind) IsWeak() bool {
	return k == WeakOfA || k == WeakOfB
}

// CountSnapshot is one point-in-time reference-count observation.
type CountSnapshot struct {
	At     clock.Timestamp
	Strong uint32
	Weak   uint32
}

// SmartHandle is the reference-counting metadata attached to one tracked
// allocation record.
type SmartHandle struct {
	// Handle is the handle's own address (the registry key it lives under).
	Handle memaddr.Address

	// Data is the shared payload this handle points at.
	Data memaddr.Address

	// ClonedFrom is the parent handle this one was cloned from
	// (memaddr.None if the handle was created directly).
	ClonedFrom memaddr.Address

	// Clones lists child handles cloned from this one, in report order.
	Clones []memaddr.Address

	// History is the append-only sequence of reference-count observations,
	// oldest first.
	History []CountSnapshot

	// Kind is the handle's pointer classification.
	Kind PointerKind

	// VarName and TypeName are optional source-level labels supplied by the
	// instrumentation collaborator ("" if unknown).
	VarName  string
	TypeName string
}

// IsWeak reports whether the handle is a non-owning reference.
func (h *SmartHandle) IsWeak() bool {
	return h.Kind.IsWeak()
}

// StrongCount returns the most recently observed strong count (0 if no
// observation was recorded).
func (h *SmartHandle) StrongCount() uint32 {
	if len(h.History) == 0 {
		return 0
	}
	return h.History[len(h.History)-1].Strong
}

// WeakCount returns the most recently observed weak count.
func (h *SmartHandle) WeakCount() uint32 {
	if len(h.History) == 0 {
		return 0
	}
	return h.History[len(h.History)-1].Weak
}

// IsDataOwner reports whether this handle is the sole owner of its payload:
// exactly one strong reference and the handle itself is not weak.
func (h *SmartHandle) IsDataOwner() bool {
	return h.StrongCount() == 1 && !h.IsWeak()
}

// AddClone appends child to the clone list if not already present.
func (h *SmartHandle) AddClone(child memaddr.Address) {
	for _, c := range h.Clones {
		if c == child {
			return
		}
	}
	h.Clones = append(h.Clones, child)
}

// Clone returns a deep copy. Used by registry snapshots so analysis never
// aliases live metadata.
func (h *SmartHandle) Clone() *SmartHandle {
	if h == nil {
		return nil
	}
	cp := *h
	cp.Clones = append([]memaddr.Address(nil), h.Clones...)
	cp.History = append([]CountSnapshot(nil), h.History...)
	return &cp
}
