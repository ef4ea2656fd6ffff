// Package clock implements the engine's logical event clock.
//
// Every tracked event (allocation, deallocation, boundary crossing, refcount
// update) is stamped with a Timestamp combining a strictly increasing sequence
// number and the wall time. The sequence number totally orders events recorded
// through one engine regardless of wall-clock resolution or skew; the wall
// time feeds duration-based computations such as leak ages.
package clock

import (
	"sync/atomic"
	"time"
)

// Timestamp is a logical timestamp issued by a Clock.
//
// Seq is unique and strictly increasing per Clock instance. Wall is the wall
// time observed when the timestamp was issued; two timestamps may share the
// same Wall value but never the same Seq.
type Timestamp struct {
	Seq  uint64
	Wall time.Time
}

// Before reports whether t was issued before other on the same Clock.
func (t Timestamp) Before(other Timestamp) bool {
	return t.Seq < other.Seq
}

// IsZero reports whether t is the zero Timestamp (never issued by a Clock;
// the first issued sequence number is 1).
func (t Timestamp) IsZero() bool {
	return t.Seq == 0
}

// Clock issues logical timestamps.
//
// Thread Safety: Now is safe for concurrent calls from multiple goroutines;
// the sequence counter is advanced atomically and no lock is taken.
type Clock struct {
	seq atomic.Uint64
	now func() time.Time
}

// New creates a Clock backed by time.Now.
func New() *Clock {
	return NewWithNow(time.Now)
}

// NewWithNow creates a Clock with an injectable wall-time source.
//
// Tests use this to control leak-age computations deterministically.
func NewWithNow(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now issues the next timestamp.
func (c *Clock) Now() Timestamp {
	return Timestamp{
		Seq:  c.seq.Add(1),
		Wall: c.now(),
	}
}

// WallNow returns the current wall time from the clock's time source without
// consuming a sequence number. Used by read-only scans that compare ages but
// record no event.
func (c *Clock) WallNow() time.Time {
	return c.now()
}
