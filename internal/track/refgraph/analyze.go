// Copyright 2025 The alloctrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package refgraph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kolkov/alloctrack/internal/track/clock"
	"github.com/kolkov/alloctrack/internal/track/handle"
	"github.com/kolkov/alloctrack/internal/track/memaddr"
)

// CycleType classifies a cycle by its length.
type CycleType int

const (
	// SelfReference is a cycle of length 1 (a handle cloning itself).
	SelfReference CycleType = iota

	// Simple is a cycle of length 2 (two handles cloning each other).
	Simple

	// Complex is a cycle of length greater than 2.
	Complex

	// Nested is reserved for cycles-within-cycles (cycles sharing nodes).
	// The depth-first search reports elementary cycles only and never
	// produces this classification.
	Nested
)

// String returns the cycle type's report label.
func (t CycleType) String() string {
	switch t {
	case SelfReference:
		return "self-reference"
	case Simple:
		return "simple"
	case Complex:
		return "complex"
	case Nested:
		return "nested"
	default:
		return fmt.Sprintf("cycle-type(%d)", int(t))
	}
}

// Severity grades a cycle by its estimated leaked memory.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the severity's report label.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Thresholds holds the severity byte thresholds. A cycle leaking strictly
// more than a threshold takes that grade. The defaults are tuning constants,
// not invariants; they come from engine configuration.
type Thresholds struct {
	CriticalBytes uint64
	HighBytes     uint64
	MediumBytes   uint64
}

// DefaultThresholds are the conventional grades: >1 MiB critical, >64 KiB
// high, >4 KiB medium.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CriticalBytes: 1 << 20,
		HighBytes:     64 << 10,
		MediumBytes:   4 << 10,
	}
}

// grade returns the severity for an estimated leak of n bytes.
func (t Thresholds) grade(n uint64) Severity {
	switch {
	case n > t.CriticalBytes:
		return SeverityCritical
	case n > t.HighBytes:
		return SeverityHigh
	case n > t.MediumBytes:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// CycleNode is one resolved node on a cycle path.
type CycleNode struct {
	Handle memaddr.Address
	Data   memaddr.Address

	// VarName and TypeName are source-level labels ("" if unknown).
	VarName  string
	TypeName string

	Kind handle.PointerKind

	// StrongCount is the node's current strong reference count.
	StrongCount uint32

	// Size is the node's allocation size in bytes.
	Size uint64
}

// CircularReference is one analyzed ownership cycle.
type CircularReference struct {
	// Path is the ordered cycle, first node repeated implicitly by the
	// edge from the last node back to the first.
	Path []CycleNode

	// SuggestedWeakPositions indexes the Path nodes that should be
	// converted to non-owning references to break the cycle. The heuristic
	// picks the node with the highest current strong count (ties broken by
	// first occurrence): the most-shared node is the safest to demote.
	SuggestedWeakPositions []int

	// LeakedBytes is the sum of allocation sizes over the resolved path.
	LeakedBytes uint64

	Severity Severity
	Type     CycleType
}

// Statistics aggregates cycle findings across one analysis.
type Statistics struct {
	BySeverity    map[Severity]int
	ByType        map[CycleType]int
	ByPointerKind map[handle.PointerKind]int
}

// Analysis is the result of one circular-reference analysis pass over a
// registry snapshot.
type Analysis struct {
	// ID uniquely identifies the report.
	ID uuid.UUID

	// GeneratedAt stamps when the analysis ran.
	GeneratedAt clock.Timestamp

	CircularReferences []CircularReference

	// TotalSmartHandles is the number of handles the graph considered
	// (weak handles excluded).
	TotalSmartHandles int

	// HandlesInCycles is the number of distinct handles appearing in any
	// cycle.
	HandlesInCycles int

	// TotalLeakedBytes sums estimated leaked memory over all cycles.
	TotalLeakedBytes uint64

	Stats Statistics
}

// Analyze converts raw cycles into structured findings.
//
// Handles that cannot be resolved to both their metadata and their allocation
// record are dropped from the path as stale; a cycle whose every node is
// stale is dropped entirely. Classification uses the resolved path length.
func Analyze(g *Graph, cycles [][]memaddr.Address, th Thresholds, at clock.Timestamp) *Analysis {
	a := &Analysis{
		ID:                uuid.New(),
		GeneratedAt:       at,
		TotalSmartHandles: g.NumNodes(),
		Stats: Statistics{
			BySeverity:    make(map[Severity]int),
			ByType:        make(map[CycleType]int),
			ByPointerKind: make(map[handle.PointerKind]int),
		},
	}

	inCycle := make(map[memaddr.Address]struct{})

	for _, raw := range cycles {
		var (
			path   []CycleNode
			leaked uint64
		)
		for _, addr := range raw {
			h := g.Handle(addr)
			rec := g.Record(addr)
			if h == nil || rec == nil {
				continue // stale handle, dropped
			}
			path = append(path, CycleNode{
				Handle:      addr,
				Data:        h.Data,
				VarName:     h.VarName,
				TypeName:    h.TypeName,
				Kind:        h.Kind,
				StrongCount: h.StrongCount(),
				Size:        rec.Size,
			})
			leaked += rec.Size
		}
		if len(path) == 0 {
			continue
		}

		cr := CircularReference{
			Path:                   path,
			SuggestedWeakPositions: suggestWeakPositions(path),
			LeakedBytes:            leaked,
			Severity:               th.grade(leaked),
			Type:                   classify(len(path)),
		}
		a.CircularReferences = append(a.CircularReferences, cr)

		a.TotalLeakedBytes += leaked
		a.Stats.BySeverity[cr.Severity]++
		a.Stats.ByType[cr.Type]++
		for _, node := range path {
			if _, seen := inCycle[node.Handle]; seen {
				continue
			}
			inCycle[node.Handle] = struct{}{}
			a.Stats.ByPointerKind[node.Kind]++
		}
	}

	a.HandlesInCycles = len(inCycle)
	return a
}

// classify maps a resolved cycle length to its type. Nested is never
// produced here; see the CycleType docs.
func classify(length int) CycleType {
	switch length {
	case 1:
		return SelfReference
	case 2:
		return Simple
	default:
		return Complex
	}
}

// suggestWeakPositions returns the path index of the node with the maximum
// current strong count, first occurrence winning ties.
func suggestWeakPositions(path []CycleNode) []int {
	best := 0
	for i, node := range path {
		if node.StrongCount > path[best].StrongCount {
			best = i
		}
	}
	return []int{best}
}
