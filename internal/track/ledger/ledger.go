// Package ledger implements the freed-address ledger used for double-free and
// invalid-free detection.
//
// The ledger maps each accepted free to the stack and timestamp of that free.
// It exists purely so a later deallocation of the same address can be
// classified: a ledger hit is always a double free, even when the address has
// also (legitimately) vanished from the registry.
//
// The ledger is one of the engine's independently locked structures; no
// operation here touches the registry or the violation log.
package ledger

import (
	"sync"

	"github.com/kolkov/alloctrack/internal/track/clock"
	"github.com/kolkov/alloctrack/internal/track/memaddr"
	"github.com/kolkov/alloctrack/internal/track/stackdepot"
	"github.com/kolkov/alloctrack/internal/track/tid"
)

// FreeRecord describes one accepted deallocation.
type FreeRecord struct {
	Addr   memaddr.Address
	Stack  *stackdepot.Stack
	At     clock.Timestamp
	Thread tid.ID
}

// Ledger is the freed-address ledger.
//
// Thread Safety: all methods are safe for concurrent use; one mutex, O(1)
// hold time per operation.
type Ledger struct {
	mu      sync.Mutex
	entries map[memaddr.Address]FreeRecord

	// order tracks insertion order for retention eviction. Maintained only
	// when a cap is set; an unbounded ledger needs no eviction order and
	// must not grow a side list per free.
	order []memaddr.Address

	// stale counts order slots whose entry was removed (address reuse).
	// Stale slots are skipped at eviction and compacted away once they
	// outnumber live ones, so order stays proportional to the entry count.
	stale int

	// cap bounds the ledger size; 0 means unbounded. An evicted address can
	// no longer be flagged as a double free, so the cap trades detection
	// completeness for bounded memory in long-lived processes.
	cap int
}

// New creates a ledger. cap <= 0 means unbounded.
func New(cap int) *Ledger {
	if cap < 0 {
		cap = 0
	}
	return &Ledger{
		entries: make(map[memaddr.Address]FreeRecord),
		cap:     cap,
	}
}

// Lookup returns the free record for addr, if present.
func (l *Ledger) Lookup(addr memaddr.Address) (FreeRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fr, ok := l.entries[addr]
	return fr, ok
}

// Record inserts fr, evicting the oldest entry if the retention cap is
// exceeded. Returns the evicted address, or memaddr.None.
//
// Re-recording an address already present (the engine re-allocated and
// re-freed it) refreshes the entry in place without growing the order list's
// logical size; the stale order slot is skipped at eviction time.
func (l *Ledger) Record(fr FreeRecord) (evicted memaddr.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[fr.Addr]; !exists && l.cap > 0 {
		l.order = append(l.order, fr.Addr)
	}
	l.entries[fr.Addr] = fr

	if l.cap > 0 && len(l.entries) > l.cap {
		// Pop order slots until one still maps to a live entry.
		for len(l.order) > 0 {
			oldest := l.order[0]
			l.order = l.order[1:]
			if _, ok := l.entries[oldest]; ok {
				delete(l.entries, oldest)
				return oldest
			}
			l.stale--
		}
	}
	return memaddr.None
}

// Remove deletes the entry for addr. Called by the engine when a tracked
// address is re-allocated, so a later free of the new allocation is not
// misclassified as a double free.
func (l *Ledger) Remove(addr memaddr.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[addr]; !ok {
		return
	}
	delete(l.entries, addr)

	if l.cap == 0 {
		return
	}
	l.stale++
	if l.stale > len(l.order)/2 {
		l.compact()
	}
}

// compact rebuilds order with only live entries, preserving their relative
// order. Called with the mutex held.
func (l *Ledger) compact() {
	live := l.order[:0]
	for _, addr := range l.order {
		if _, ok := l.entries[addr]; ok {
			live = append(live, addr)
		}
	}
	l.order = live
	l.stale = 0
}

// Len returns the number of ledger entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns a copy of all entries in unspecified order.
func (l *Ledger) Snapshot() []FreeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FreeRecord, 0, len(l.entries))
	for _, fr := range l.entries {
		out = append(out, fr)
	}
	return out
}
