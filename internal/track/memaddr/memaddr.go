// Package memaddr defines the opaque address handle used throughout the
// allocation tracker.
//
// Tracked addresses come from an external allocator hook and identify either a
// raw allocation or a reference-counted ownership handle. They are never
// dereferenced by this module, so the type is a plain 64-bit integer rather
// than a uintptr: the addresses belong to the observed program, not to this
// process's address space.
package memaddr

import "fmt"

// Address is an opaque integer handle identifying a tracked allocation.
//
// The zero value is a valid map key but is never produced by a well-behaved
// allocator hook; it is used internally to mean "no address".
type Address uint64

// None is the sentinel for "no address".
const None Address = 0

// String formats the address in the conventional hex form (e.g. "0x1a2b3c").
func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}
