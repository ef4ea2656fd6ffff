package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/alloctrack/internal/track/clock"
	"github.com/kolkov/alloctrack/internal/track/memaddr"
)

func TestRecordAndLookup(t *testing.T) {
	l := New(0)
	c := clock.New()

	_, hit := l.Lookup(0x1000)
	require.False(t, hit)

	l.Record(FreeRecord{Addr: 0x1000, At: c.Now(), Thread: 7})

	fr, hit := l.Lookup(0x1000)
	require.True(t, hit)
	assert.Equal(t, memaddr.Address(0x1000), fr.Addr)
	assert.EqualValues(t, 7, fr.Thread)
	assert.Equal(t, 1, l.Len())
}

func TestRemove(t *testing.T) {
	l := New(0)
	l.Record(FreeRecord{Addr: 0x1000})
	l.Remove(0x1000)

	_, hit := l.Lookup(0x1000)
	assert.False(t, hit)
	assert.Zero(t, l.Len())

	// Removing an absent address is a no-op.
	l.Remove(0x2000)
}

func TestRetentionCapEvictsOldest(t *testing.T) {
	l := New(3)

	for i := 1; i <= 3; i++ {
		evicted := l.Record(FreeRecord{Addr: memaddr.Address(i)})
		assert.Equal(t, memaddr.None, evicted)
	}

	evicted := l.Record(FreeRecord{Addr: 0x4})
	assert.Equal(t, memaddr.Address(0x1), evicted)
	assert.Equal(t, 3, l.Len())

	_, hit := l.Lookup(0x1)
	assert.False(t, hit, "evicted entry still present")
	_, hit = l.Lookup(0x4)
	assert.True(t, hit)
}

func TestRerecordRefreshesInPlace(t *testing.T) {
	l := New(2)
	c := clock.New()

	l.Record(FreeRecord{Addr: 0x1, At: c.Now()})
	l.Record(FreeRecord{Addr: 0x2, At: c.Now()})

	// Re-record 0x1 (re-allocated and re-freed). No growth, so no eviction.
	refreshed := c.Now()
	evicted := l.Record(FreeRecord{Addr: 0x1, At: refreshed})
	assert.Equal(t, memaddr.None, evicted)
	assert.Equal(t, 2, l.Len())

	fr, hit := l.Lookup(0x1)
	require.True(t, hit)
	assert.Equal(t, refreshed.Seq, fr.At.Seq)
}

func TestEvictionIgnoresRemovedAddresses(t *testing.T) {
	l := New(2)

	l.Record(FreeRecord{Addr: 0x1})
	l.Remove(0x1) // removed before ever being eviction-relevant
	l.Record(FreeRecord{Addr: 0x2})
	l.Record(FreeRecord{Addr: 0x3})

	// Third live insert: 0x1 is gone, so the oldest live entry 0x2 goes.
	evicted := l.Record(FreeRecord{Addr: 0x4})
	assert.Equal(t, memaddr.Address(0x2), evicted)

	_, hit := l.Lookup(0x3)
	assert.True(t, hit)
	_, hit = l.Lookup(0x4)
	assert.True(t, hit)
}

func TestUnboundedLedgerKeepsNoOrderList(t *testing.T) {
	l := New(0)

	// Address-reuse churn: every free lands in the ledger and every
	// re-allocation removes it again. The unbounded ledger must not grow a
	// side list across the churn.
	for i := 0; i < 10000; i++ {
		l.Record(FreeRecord{Addr: 0x1000})
		l.Remove(0x1000)
	}

	assert.Zero(t, l.Len())
	assert.Empty(t, l.order, "unbounded ledger must not keep eviction bookkeeping")
}

func TestCappedLedgerOrderStaysBounded(t *testing.T) {
	const retention = 8
	l := New(retention)

	// Heavy reuse of a small address set, entries never exceeding the cap,
	// so eviction alone cannot trim the order list; compaction must.
	for i := 0; i < 10000; i++ {
		addr := memaddr.Address(0x1000 + i%4)
		l.Record(FreeRecord{Addr: addr})
		l.Remove(addr)
	}

	assert.LessOrEqual(t, len(l.order), 2*retention,
		"order list grew past the compaction bound")
	assert.Zero(t, l.Len())
}

func TestSnapshot(t *testing.T) {
	l := New(0)
	l.Record(FreeRecord{Addr: 0x1})
	l.Record(FreeRecord{Addr: 0x2})

	snap := l.Snapshot()
	assert.Len(t, snap, 2)

	addrs := map[memaddr.Address]bool{}
	for _, fr := range snap {
		addrs[fr.Addr] = true
	}
	assert.True(t, addrs[0x1] && addrs[0x2])
}
