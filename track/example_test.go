package track_test

import (
	"errors"
	"fmt"

	"github.com/kolkov/alloctrack/track"
)

// Example demonstrates basic allocation tracking and double-free detection.
func Example() {
	t := track.New(track.DefaultConfig())

	t.RecordAllocation(0x1000, 256, nil)

	if err := t.RecordDeallocation(0x1000); err != nil {
		fmt.Println("unsafe free:", err)
	}

	// The second free of the same address is a double free.
	if err := t.RecordDeallocation(0x1000); err != nil {
		fmt.Println("unsafe free:", err)
	}

	fmt.Println("violations:", len(t.Violations()))
	// Output:
	// unsafe free: memory corruption: double free at 0x1000
	// violations: 1
}

// Example_invalidFree demonstrates detection of a free that was never
// preceded by a tracked allocation.
func Example_invalidFree() {
	t := track.New(track.DefaultConfig())

	err := t.RecordDeallocation(0xdeadbeef)
	fmt.Println(errors.Is(err, track.ErrInvalidPointer))
	// Output:
	// true
}

// Example_circularReferences demonstrates ownership-cycle detection among
// reference-counted smart handles.
func Example_circularReferences() {
	t := track.New(track.DefaultConfig())

	// Two handle allocations whose clone relationship forms a loop.
	t.RecordAllocation(0x10, 1024, nil)
	t.RecordAllocation(0x20, 1024, nil)
	t.Associate(track.HandleUpdate{Handle: 0x10, Data: 0x100, Strong: 2})
	t.Associate(track.HandleUpdate{Handle: 0x20, Data: 0x200, Strong: 2, ClonedFrom: 0x10})
	t.Associate(track.HandleUpdate{Handle: 0x10, Data: 0x100, Strong: 2, ClonedFrom: 0x20})

	analysis := t.DetectCircularReferences()
	for _, cr := range analysis.CircularReferences {
		fmt.Printf("%s cycle, %d handles, %d bytes leaked\n",
			cr.Type, len(cr.Path), cr.LeakedBytes)
	}
	// Output:
	// simple cycle, 2 handles, 2048 bytes leaked
}
