// Package track provides an in-process memory-safety analysis engine for
// instrumented allocators and runtimes.
//
// The engine consumes a stream of allocation, deallocation, boundary-crossing
// and smart-handle events, maintains full provenance for every live
// allocation, and detects three families of unsafety: invalid frees (double
// frees and frees of untracked addresses), age-based potential leaks, and
// ownership cycles among reference-counted smart handles.
//
// # Quick Start
//
//	package main
//
//	import (
//		"fmt"
//
//		"github.com/kolkov/alloctrack/track"
//	)
//
//	func main() {
//		t := track.New(track.DefaultConfig())
//
//		t.RecordAllocation(0x1000, 256, nil)
//		if err := t.RecordDeallocation(0x1000); err != nil {
//			fmt.Println("unsafe free:", err)
//		}
//
//		// Second free of the same address is a double free.
//		if err := t.RecordDeallocation(0x1000); err != nil {
//			fmt.Println("unsafe free:", err) // memory corruption: double free
//		}
//	}
//
// # API Overview
//
// The package provides:
//   - Tracking: [Tracker.RecordAllocation], [Tracker.RecordDeallocation],
//     [Tracker.RecordBoundaryEvent], [Tracker.Associate]
//   - Analysis: [Tracker.DetectLeaks], [Tracker.DetectCircularReferences]
//   - Inspection: [Tracker.Violations], [Tracker.Allocations], [Tracker.Stats]
//   - Configuration: [DefaultConfig], [LoadConfig]
//   - Version information: [GetInfo], [Version]
//
// # How It Works
//
// Every allocation is recorded with its call stack (deduplicated in a stack
// depot), a logical timestamp, the recording thread, and a provenance value
// describing how the memory came to exist (managed code, an unchecked
// region, or a native library call).
//
// Deallocations follow a strict two-step check: the freed-address ledger is
// consulted first, so a double free is always reported as a double free even
// after the allocation record is gone; only then is the active set checked
// for the record, so a free of a never-tracked address is reported as an
// invalid free.
//
// Cycle detection builds a directed graph over smart-handle clone
// relationships (weak handles excluded, since they do not keep data alive)
// and runs an iterative depth-first search. Each cycle is classified by
// length, graded by estimated leaked bytes, and annotated with the path
// position whose handle should become non-owning to break the cycle.
//
// # Concurrency
//
// All Tracker methods are safe for concurrent use. Tracking operations hold
// one internal lock at a time for a single lookup or update; analysis
// operations copy the allocation set under the lock and run against the
// immutable copy, so scans never block tracking beyond the copy itself.
//
// # Detection, Not Prevention
//
// The engine observes an event stream; it does not interpose on memory
// operations. An error from [Tracker.RecordDeallocation] means the free was
// unsafe, not that it was stopped.
//
// # Links
//
// Project repository:
// https://github.com/kolkov/alloctrack
//
// Documentation:
// https://pkg.go.dev/github.com/kolkov/alloctrack/track
package track
