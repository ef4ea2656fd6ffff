package track_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kolkov/alloctrack/track"
)

func TestLifecycleThroughFacade(t *testing.T) {
	tr := track.New(track.DefaultConfig(), track.WithLogger(zap.NewNop()))

	tr.RecordAllocation(0x1000, 256, nil)
	tr.RecordAllocation(0x2000, 64, track.NativeCall("libssl", "SSL_new"))

	allocs := tr.Allocations()
	require.Len(t, allocs, 2)
	assert.Equal(t, track.Address(0x1000), allocs[0].Addr)

	rec, ok := tr.Allocation(0x2000)
	require.True(t, ok)
	assert.Contains(t, rec.Prov.String(), "libssl")
	_, ok = tr.Allocation(0xbeef)
	assert.False(t, ok)

	require.NoError(t, tr.RecordDeallocation(0x1000))
	assert.ErrorIs(t, tr.RecordDeallocation(0x1000), track.ErrMemoryCorruption)
	assert.ErrorIs(t, tr.RecordDeallocation(0xdead), track.ErrInvalidPointer)

	violations := tr.Violations()
	assert.Len(t, violations, 2)

	st := tr.Stats()
	assert.EqualValues(t, 2, st.Allocations)
	assert.EqualValues(t, 1, st.Deallocations)
	assert.Equal(t, 2, st.Violations)
}

func TestBoundaryRiskThroughFacade(t *testing.T) {
	tr := track.New(track.DefaultConfig())

	tr.RecordAllocation(0x1000, 64, track.NativeCall("libz", "inflateInit"))
	tr.RecordBoundaryEvent(0x1000, track.OwnershipTransfer, "managed", "libz")

	violations := tr.Violations()
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].String(), "CROSS-BOUNDARY RISK")
}

func TestUncheckedRegionProvenance(t *testing.T) {
	tr := track.New(track.DefaultConfig())
	tr.RecordAllocation(0x1000, 64, track.UncheckedRegion("codec/decode.go:114"))

	allocs := tr.Allocations()
	require.Len(t, allocs, 1)
	assert.Contains(t, allocs[0].Prov.String(), "codec/decode.go:114")
}

func TestDetectLeaksThroughFacade(t *testing.T) {
	tr := track.New(track.DefaultConfig())
	tr.RecordAllocation(0x1000, 64, nil)

	// A generous threshold finds nothing in a fresh tracker.
	assert.Empty(t, tr.DetectLeaks(time.Hour))
}

func TestCycleDetectionThroughFacade(t *testing.T) {
	tr := track.New(track.DefaultConfig())

	tr.RecordAllocation(0x1, 2000, nil)
	tr.Associate(track.HandleUpdate{
		Handle: 0x1,
		Data:   0x100,
		Strong: 1,
		Clones: []track.Address{0x1},
	})

	analysis := tr.DetectCircularReferences()
	require.Len(t, analysis.CircularReferences, 1)
	assert.Equal(t, uint64(2000), analysis.TotalLeakedBytes)

	// A captured snapshot analyzes to the same findings.
	replay := tr.AnalyzeSnapshot(tr.Allocations())
	assert.Equal(t, analysis.CircularReferences, replay.CircularReferences)
}

func TestWithPrometheus(t *testing.T) {
	collector, opt := track.WithPrometheus()
	tr := track.New(track.DefaultConfig(), opt)

	tr.RecordAllocation(0x1000, 64, nil)
	require.NoError(t, tr.RecordDeallocation(0x1000))

	families, err := collector.Registry().Gather()
	require.NoError(t, err)

	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "alloctrack_operations_total")

	count, err := testutil.GatherAndCount(collector.Registry(), "alloctrack_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one allocation series and one deallocation series")
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := track.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, track.DefaultConfig(), cfg)
}

func TestVersionInfo(t *testing.T) {
	info := track.GetInfo()
	assert.Equal(t, track.Version, info.Version)
	assert.True(t, strings.HasPrefix(track.Version, "0."))
	assert.NotEmpty(t, info.CycleAlgorithm)
}
