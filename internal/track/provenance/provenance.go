// Package provenance classifies where a tracked allocation came from and
// records its crossings over safety boundaries.
//
// Provenance is a sum type: each variant carries only the fields meaningful
// for that variant, discriminated by Kind. Consumers switch on Kind (or
// type-switch on the concrete variant) rather than inspecting a shared
// superset of fields.
package provenance

import (
	"fmt"

	"github.com/kolkov/alloctrack/internal/track/clock"
	"github.com/kolkov/alloctrack/internal/track/stackdepot"
	"github.com/kolkov/alloctrack/internal/track/tid"
)

// Kind discriminates the Provenance variants.
type Kind int

const (
	// KindManagedSafe is an ordinary managed allocation.
	KindManagedSafe Kind = iota

	// KindUncheckedRegion is an allocation made inside a manually-verified
	// (unchecked) code region.
	KindUncheckedRegion

	// KindNativeCall is an allocation made through a native-interop call.
	KindNativeCall

	// KindBoundaryTransfer is an allocation whose ownership moved between
	// two provenance domains.
	KindBoundaryTransfer
)

// String returns the kind's report label.
func (k Kind) String() string {
	switch k {
	case KindManagedSafe:
		return "managed-safe"
	case KindUncheckedRegion:
		return "unchecked-region"
	case KindNativeCall:
		return "native-call"
	case KindBoundaryTransfer:
		return "boundary-transfer"
	default:
		return fmt.Sprintf("provenance(%d)", int(k))
	}
}

// Provenance is the recorded origin classification of an allocation.
//
// Implementations are exactly the variant structs in this package.
type Provenance interface {
	Kind() Kind
	String() string
}

// ManagedSafe is an ordinary managed allocation. It carries no extra data.
type ManagedSafe struct{}

// Kind implements Provenance.
func (ManagedSafe) Kind() Kind { return KindManagedSafe }

func (ManagedSafe) String() string { return "managed-safe" }

// UncheckedRegion is an allocation made inside a manually-verified code
// region.
type UncheckedRegion struct {
	// Location names the region (e.g. "decode.inlineBuffer").
	Location string

	// Stack is the call stack captured where the region was entered.
	Stack *stackdepot.Stack
}

// Kind implements Provenance.
func (UncheckedRegion) Kind() Kind { return KindUncheckedRegion }

func (p UncheckedRegion) String() string {
	return fmt.Sprintf("unchecked-region(%s)", p.Location)
}

// NativeCall is an allocation made through a native-interop call.
type NativeCall struct {
	// Library is the foreign library name.
	Library string

	// Function is the foreign entry point.
	Function string

	// Stack is the call stack captured at the interop call site.
	Stack *stackdepot.Stack
}

// Kind implements Provenance.
func (NativeCall) Kind() Kind { return KindNativeCall }

func (p NativeCall) String() string {
	return fmt.Sprintf("native-call(%s!%s)", p.Library, p.Function)
}

// BoundaryTransfer records that an allocation's ownership moved from one
// provenance domain to another. From and To are full Provenance values, so
// chained transfers nest.
type BoundaryTransfer struct {
	From Provenance
	To   Provenance
	At   clock.Timestamp
}

// Kind implements Provenance.
func (BoundaryTransfer) Kind() Kind { return KindBoundaryTransfer }

func (p BoundaryTransfer) String() string {
	return fmt.Sprintf("boundary-transfer(%s -> %s)", p.From, p.To)
}

// EventKind discriminates boundary-crossing event types.
type EventKind int

const (
	// ManagedToNative is a crossing from managed code into native code.
	ManagedToNative EventKind = iota

	// NativeToManaged is a crossing from native code back into managed code.
	NativeToManaged

	// OwnershipTransfer is a transfer of ownership across a boundary.
	OwnershipTransfer

	// SharedAccess is shared (non-owning) access across a boundary.
	SharedAccess
)

// String returns the event kind's report label.
func (k EventKind) String() string {
	switch k {
	case ManagedToNative:
		return "managed-to-native"
	case NativeToManaged:
		return "native-to-managed"
	case OwnershipTransfer:
		return "ownership-transfer"
	case SharedAccess:
		return "shared-access"
	default:
		return fmt.Sprintf("boundary-event(%d)", int(k))
	}
}

// BoundaryEvent is one recorded boundary crossing, appended to the owning
// allocation record.
type BoundaryEvent struct {
	Kind EventKind
	At   clock.Timestamp

	// FromContext and ToContext label the two sides of the crossing
	// (e.g. "managed", "libavcodec").
	FromContext string
	ToContext   string

	// Stack is the call stack captured when the crossing was recorded.
	Stack *stackdepot.Stack

	// Thread identifies the goroutine that recorded the crossing.
	Thread tid.ID
}
