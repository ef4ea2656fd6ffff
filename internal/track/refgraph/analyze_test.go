package refgraph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/alloctrack/internal/track/clock"
	"github.com/kolkov/alloctrack/internal/track/handle"
	"github.com/kolkov/alloctrack/internal/track/registry"
)

func analyzeSnapshot(t *testing.T, snapshot []*registry.AllocationRecord) *Analysis {
	t.Helper()
	g := Build(snapshot)
	return Analyze(g, g.FindCycles(), DefaultThresholds(), clock.New().Now())
}

func TestAnalyzeSelfReference(t *testing.T) {
	a := handleRecord(0x1, 0x100, 2000, handle.SharedStrongA, 1)
	a.Handle.AddClone(0x1)
	a.Handle.VarName = "root"
	a.Handle.TypeName = "TreeNode"

	analysis := analyzeSnapshot(t, []*registry.AllocationRecord{a})

	assert.NotEqual(t, uuid.Nil, analysis.ID)
	assert.Equal(t, 1, analysis.TotalSmartHandles)
	assert.Equal(t, 1, analysis.HandlesInCycles)
	require.Len(t, analysis.CircularReferences, 1)

	cr := analysis.CircularReferences[0]
	assert.Equal(t, SelfReference, cr.Type)
	assert.Equal(t, SeverityLow, cr.Severity, "2000 bytes is below the medium threshold")
	assert.Equal(t, uint64(2000), cr.LeakedBytes)
	assert.Equal(t, []int{0}, cr.SuggestedWeakPositions)
	require.Len(t, cr.Path, 1)
	assert.Equal(t, "root", cr.Path[0].VarName)
	assert.Equal(t, "TreeNode", cr.Path[0].TypeName)
}

func TestAnalyzeSimpleCycleSeverity(t *testing.T) {
	// Two 600 KiB nodes: 1.2 MiB leaked, above the 1 MiB critical threshold.
	const size = 600 << 10
	a := handleRecord(0x1, 0x100, size, handle.SharedStrongA, 2)
	b := handleRecord(0x2, 0x200, size, handle.SharedStrongA, 3)
	link(a, b)
	link(b, a)

	analysis := analyzeSnapshot(t, []*registry.AllocationRecord{a, b})
	require.Len(t, analysis.CircularReferences, 1)

	cr := analysis.CircularReferences[0]
	assert.Equal(t, Simple, cr.Type)
	assert.Equal(t, SeverityCritical, cr.Severity)
	assert.Equal(t, uint64(2*size), cr.LeakedBytes)
	assert.Equal(t, uint64(2*size), analysis.TotalLeakedBytes)

	// The node with the highest strong count (b, count 3) is the suggested
	// break point.
	require.Len(t, cr.SuggestedWeakPositions, 1)
	assert.Equal(t, handle.PointerKind(handle.SharedStrongA), cr.Path[cr.SuggestedWeakPositions[0]].Kind)
	assert.Equal(t, uint32(3), cr.Path[cr.SuggestedWeakPositions[0]].StrongCount)
}

func TestAnalyzeComplexCycle(t *testing.T) {
	a := handleRecord(0x1, 0x100, 100, handle.SharedStrongA, 1)
	b := handleRecord(0x2, 0x200, 100, handle.SharedStrongB, 1)
	c := handleRecord(0x3, 0x300, 100, handle.SharedStrongA, 1)
	link(a, b)
	link(b, c)
	c.Handle.AddClone(a.Addr)

	analysis := analyzeSnapshot(t, []*registry.AllocationRecord{a, b, c})
	require.Len(t, analysis.CircularReferences, 1)
	assert.Equal(t, Complex, analysis.CircularReferences[0].Type)
	assert.Equal(t, 3, analysis.HandlesInCycles)
}

func TestSeverityGradingBoundaries(t *testing.T) {
	th := DefaultThresholds()

	// Strictly greater-than semantics at each threshold.
	assert.Equal(t, SeverityLow, th.grade(4<<10))
	assert.Equal(t, SeverityMedium, th.grade(4<<10+1))
	assert.Equal(t, SeverityMedium, th.grade(64<<10))
	assert.Equal(t, SeverityHigh, th.grade(64<<10+1))
	assert.Equal(t, SeverityHigh, th.grade(1<<20))
	assert.Equal(t, SeverityCritical, th.grade(1<<20+1))
	assert.Equal(t, SeverityLow, th.grade(0))
}

func TestSuggestWeakPositionsTieBreak(t *testing.T) {
	path := []CycleNode{
		{StrongCount: 2},
		{StrongCount: 5},
		{StrongCount: 5},
		{StrongCount: 1},
	}
	assert.Equal(t, []int{1}, suggestWeakPositions(path), "first occurrence wins ties")
}

func TestAnalyzeStatistics(t *testing.T) {
	a := handleRecord(0x1, 0x100, 100, handle.SharedStrongA, 2)
	b := handleRecord(0x2, 0x200, 100, handle.SharedStrongB, 2)
	link(a, b)
	link(b, a)

	c := handleRecord(0x3, 0x300, 8<<10, handle.UniqueOwner, 1)
	c.Handle.AddClone(0x3)

	analysis := analyzeSnapshot(t, []*registry.AllocationRecord{a, b, c})
	require.Len(t, analysis.CircularReferences, 2)

	assert.Equal(t, 1, analysis.Stats.ByType[Simple])
	assert.Equal(t, 1, analysis.Stats.ByType[SelfReference])
	assert.Equal(t, 1, analysis.Stats.BySeverity[SeverityLow])
	assert.Equal(t, 1, analysis.Stats.BySeverity[SeverityMedium])
	assert.Equal(t, 1, analysis.Stats.ByPointerKind[handle.SharedStrongA])
	assert.Equal(t, 1, analysis.Stats.ByPointerKind[handle.SharedStrongB])
	assert.Equal(t, 1, analysis.Stats.ByPointerKind[handle.UniqueOwner])
	assert.Equal(t, 3, analysis.HandlesInCycles)
}

func TestAnalyzeRepeatedRunsEquivalent(t *testing.T) {
	build := func() []*registry.AllocationRecord {
		a := handleRecord(0x1, 0x100, 100, handle.SharedStrongA, 2)
		b := handleRecord(0x2, 0x200, 300, handle.SharedStrongA, 2)
		link(a, b)
		link(b, a)
		return []*registry.AllocationRecord{a, b}
	}

	first := analyzeSnapshot(t, build())
	second := analyzeSnapshot(t, build())

	// Report IDs and generation stamps differ; the findings must not.
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.CircularReferences, second.CircularReferences)
	assert.Equal(t, first.TotalLeakedBytes, second.TotalLeakedBytes)
	assert.Equal(t, first.Stats, second.Stats)
}

func TestCycleTypeAndSeverityLabels(t *testing.T) {
	assert.Equal(t, "self-reference", SelfReference.String())
	assert.Equal(t, "simple", Simple.String())
	assert.Equal(t, "complex", Complex.String())
	assert.Equal(t, "nested", Nested.String())
	assert.Equal(t, "critical", SeverityCritical.String())
}
