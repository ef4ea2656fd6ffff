// Package violation defines the safety-violation sum type and the
// mutex-protected violation log.
//
// Violations are observations, not verdicts: the engine is heuristic and the
// log only contains what was seen through tracked allocations. Each variant
// knows how to format itself for reports and carries a deduplication key so
// repeated occurrences of the same defect at the same address can be
// collapsed at the reporting layer (the log itself records every occurrence).
package violation

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kolkov/alloctrack/internal/track/clock"
	"github.com/kolkov/alloctrack/internal/track/memaddr"
	"github.com/kolkov/alloctrack/internal/track/stackdepot"
)

// RiskLevel orders cross-boundary risk severities: Low < Medium < High <
// Critical.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the risk level's report label.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return fmt.Sprintf("risk(%d)", int(r))
	}
}

// Kind discriminates the Violation variants.
type Kind int

const (
	// KindDoubleFree is a deallocation of an address already freed.
	KindDoubleFree Kind = iota

	// KindInvalidFree is a deallocation of an address never tracked as
	// allocated.
	KindInvalidFree

	// KindPotentialLeak is a long-lived allocation exceeding the leak-age
	// threshold.
	KindPotentialLeak

	// KindCrossBoundaryRisk is a risky ownership or access pattern across a
	// safety boundary.
	KindCrossBoundaryRisk
)

// String returns the kind's report label.
func (k Kind) String() string {
	switch k {
	case KindDoubleFree:
		return "double-free"
	case KindInvalidFree:
		return "invalid-free"
	case KindPotentialLeak:
		return "potential-leak"
	case KindCrossBoundaryRisk:
		return "cross-boundary-risk"
	default:
		return fmt.Sprintf("violation(%d)", int(k))
	}
}

// Violation is one detected safety violation.
//
// Implementations are exactly the variant structs in this package.
type Violation interface {
	Kind() Kind

	// DedupKey uniquely identifies the violation's location so the same
	// defect is reported once: "{kind}:{addr}".
	DedupKey() string

	// Format writes the report-style rendering to w.
	Format(w io.Writer)

	String() string
}

// DoubleFree records a deallocation of an address that was already freed.
type DoubleFree struct {
	Addr memaddr.Address

	// FirstFree is the stack of the free that succeeded (from the ledger).
	FirstFree *stackdepot.Stack

	// SecondFree is the stack of the free that was rejected.
	SecondFree *stackdepot.Stack

	At clock.Timestamp
}

// Kind implements Violation.
func (DoubleFree) Kind() Kind { return KindDoubleFree }

// DedupKey implements Violation.
func (v DoubleFree) DedupKey() string {
	return fmt.Sprintf("double-free:%s", v.Addr)
}

// Format implements Violation.
func (v DoubleFree) Format(w io.Writer) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "WARNING: DOUBLE FREE\n")
	fmt.Fprintf(w, "Address: %s\n", v.Addr)
	fmt.Fprintf(w, "Second free at:\n%s", v.SecondFree.Format())
	fmt.Fprintf(w, "\nPreviously freed at:\n%s", v.FirstFree.Format())
	fmt.Fprintf(w, "==================\n")
}

func (v DoubleFree) String() string { return format(v) }

// InvalidFree records a deallocation of an address with no active tracked
// allocation and no ledger entry.
type InvalidFree struct {
	Addr  memaddr.Address
	Stack *stackdepot.Stack
	At    clock.Timestamp
}

// Kind implements Violation.
func (InvalidFree) Kind() Kind { return KindInvalidFree }

// DedupKey implements Violation.
func (v InvalidFree) DedupKey() string {
	return fmt.Sprintf("invalid-free:%s", v.Addr)
}

// Format implements Violation.
func (v InvalidFree) Format(w io.Writer) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "WARNING: INVALID FREE\n")
	fmt.Fprintf(w, "Address: %s (never tracked as allocated)\n", v.Addr)
	fmt.Fprintf(w, "Freed at:\n%s", v.Stack.Format())
	fmt.Fprintf(w, "==================\n")
}

func (v InvalidFree) String() string { return format(v) }

// PotentialLeak records a still-active allocation whose age exceeded the
// caller's threshold. Advisory only.
type PotentialLeak struct {
	Addr memaddr.Address
	Size uint64

	// AllocStack is the stack captured when the allocation was recorded.
	AllocStack *stackdepot.Stack

	AllocatedAt clock.Timestamp
	DetectedAt  clock.Timestamp
}

// Kind implements Violation.
func (PotentialLeak) Kind() Kind { return KindPotentialLeak }

// DedupKey implements Violation.
func (v PotentialLeak) DedupKey() string {
	return fmt.Sprintf("potential-leak:%s", v.Addr)
}

// Format implements Violation.
func (v PotentialLeak) Format(w io.Writer) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "WARNING: POTENTIAL LEAK\n")
	fmt.Fprintf(w, "Address: %s (%d bytes)\n", v.Addr, v.Size)
	fmt.Fprintf(w, "Age: %s\n", v.DetectedAt.Wall.Sub(v.AllocatedAt.Wall))
	fmt.Fprintf(w, "Allocated at:\n%s", v.AllocStack.Format())
	fmt.Fprintf(w, "==================\n")
}

func (v PotentialLeak) String() string { return format(v) }

// CrossBoundaryRisk records a risky ownership or access pattern across a
// safety boundary.
type CrossBoundaryRisk struct {
	Addr        memaddr.Address
	Level       RiskLevel
	Description string
	Stack       *stackdepot.Stack
	At          clock.Timestamp
}

// Kind implements Violation.
func (CrossBoundaryRisk) Kind() Kind { return KindCrossBoundaryRisk }

// DedupKey implements Violation.
func (v CrossBoundaryRisk) DedupKey() string {
	return fmt.Sprintf("cross-boundary-risk:%s", v.Addr)
}

// Format implements Violation.
func (v CrossBoundaryRisk) Format(w io.Writer) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "WARNING: CROSS-BOUNDARY RISK (%s)\n", v.Level)
	fmt.Fprintf(w, "Address: %s\n", v.Addr)
	fmt.Fprintf(w, "%s\n", v.Description)
	fmt.Fprintf(w, "Recorded at:\n%s", v.Stack.Format())
	fmt.Fprintf(w, "==================\n")
}

func (v CrossBoundaryRisk) String() string { return format(v) }

// format renders a violation via its Format method.
func format(v Violation) string {
	var buf strings.Builder
	v.Format(&buf)
	return buf.String()
}

// Log is the engine's violation log.
//
// Append always records the violation (the log is an exhaustive record of
// observations); the returned firstSeen flag tells the caller whether this
// dedup key is new, so user-facing reporting can be emitted once per defect.
//
// Thread Safety: safe for concurrent use; one mutex, O(1) hold time per
// operation.
type Log struct {
	mu         sync.Mutex
	violations []Violation
	seen       map[string]struct{}
	byKind     map[Kind]int
}

// NewLog creates an empty violation log.
func NewLog() *Log {
	return &Log{
		seen:   make(map[string]struct{}),
		byKind: make(map[Kind]int),
	}
}

// Append records v and reports whether its dedup key was seen for the first
// time.
func (l *Log) Append(v Violation) (firstSeen bool) {
	key := v.DedupKey()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.violations = append(l.violations, v)
	l.byKind[v.Kind()]++
	if _, ok := l.seen[key]; ok {
		return false
	}
	l.seen[key] = struct{}{}
	return true
}

// Len returns the number of recorded violations.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.violations)
}

// Snapshot returns a copy of the recorded violations in record order.
func (l *Log) Snapshot() []Violation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Violation, len(l.violations))
	copy(out, l.violations)
	return out
}

// CountByKind returns a copy of the per-kind violation counts.
func (l *Log) CountByKind() map[Kind]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Kind]int, len(l.byKind))
	for k, n := range l.byKind {
		out[k] = n
	}
	return out
}
