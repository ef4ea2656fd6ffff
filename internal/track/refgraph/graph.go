// Copyright 2025 The alloctrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package refgraph builds the directed reference graph over smart handles and
// finds the ownership cycles that reference counting alone can never collect.
//
// The graph is derived, never persisted: it is built fresh from a registry
// snapshot per analysis call and is not mutated afterwards. Nodes are the
// non-weak smart handles in the snapshot; an edge H -> C exists whenever C was
// cloned from H, inserted from whichever side recorded the relationship (the
// parent's clone list or the child's cloned-from field), so circular clone
// relationships surface regardless of which side was observed.
package refgraph

import (
	"sort"

	"github.com/kolkov/alloctrack/internal/track/handle"
	"github.com/kolkov/alloctrack/internal/track/memaddr"
	"github.com/kolkov/alloctrack/internal/track/registry"
)

// Graph is the reference graph derived from one registry snapshot.
//
// Nodes are addressed by dense integer index (arena pattern): the traversal
// state lives in flat slices keyed by index, not in maps keyed by address.
type Graph struct {
	// nodes maps index -> handle address, sorted ascending so traversal
	// order (and therefore analysis output) is deterministic for a given
	// snapshot.
	nodes []memaddr.Address

	// index maps handle address -> node index.
	index map[memaddr.Address]int

	// adj is the adjacency list, keyed by node index.
	adj [][]int

	// reverse maps data address -> handles referencing that data.
	reverse map[memaddr.Address][]memaddr.Address

	// handles and records resolve nodes back to their metadata.
	handles map[memaddr.Address]*handle.SmartHandle
	records map[memaddr.Address]*registry.AllocationRecord
}

// Build constructs the reference graph from a registry snapshot.
//
// Only records carrying smart-handle metadata participate; weak handles are
// skipped entirely and therefore never appear as nodes. Edges whose far end
// is not a node (weak, stale, or never-associated handles) are dropped: they
// cannot participate in a cycle.
func Build(snapshot []*registry.AllocationRecord) *Graph {
	g := &Graph{
		index:   make(map[memaddr.Address]int),
		reverse: make(map[memaddr.Address][]memaddr.Address),
		handles: make(map[memaddr.Address]*handle.SmartHandle),
		records: make(map[memaddr.Address]*registry.AllocationRecord),
	}

	// Pass 1: collect nodes.
	for _, rec := range snapshot {
		h := rec.Handle
		if h == nil || h.IsWeak() {
			continue
		}
		if _, dup := g.index[h.Handle]; dup {
			continue
		}
		g.index[h.Handle] = -1 // placeholder, assigned after sorting
		g.nodes = append(g.nodes, h.Handle)
		g.handles[h.Handle] = h
		g.records[h.Handle] = rec
	}

	sort.Slice(g.nodes, func(i, j int) bool { return g.nodes[i] < g.nodes[j] })
	for i, addr := range g.nodes {
		g.index[addr] = i
	}

	// Pass 2: reverse index and clone edges, both directions.
	g.adj = make([][]int, len(g.nodes))
	for _, addr := range g.nodes {
		h := g.handles[addr]
		g.reverse[h.Data] = append(g.reverse[h.Data], addr)
		for _, child := range h.Clones {
			g.addEdge(addr, child)
		}
		if h.ClonedFrom != memaddr.None {
			g.addEdge(h.ClonedFrom, addr)
		}
	}
	return g
}

// addEdge inserts from -> to if both endpoints are nodes, deduplicated.
func (g *Graph) addEdge(from, to memaddr.Address) {
	fi, ok := g.index[from]
	if !ok {
		return
	}
	ti, ok := g.index[to]
	if !ok {
		return
	}
	for _, existing := range g.adj[fi] {
		if existing == ti {
			return
		}
	}
	g.adj[fi] = append(g.adj[fi], ti)
}

// NumNodes returns the number of handles considered by the graph.
func (g *Graph) NumNodes() int {
	return len(g.nodes)
}

// Referencing returns the handles referencing the given data address, in
// insertion order. Empty if the data address is unknown.
func (g *Graph) Referencing(data memaddr.Address) []memaddr.Address {
	return g.reverse[data]
}

// Handle resolves a handle address to its metadata (nil if not a node).
func (g *Graph) Handle(addr memaddr.Address) *handle.SmartHandle {
	return g.handles[addr]
}

// Record resolves a handle address to its allocation record (nil if unknown).
func (g *Graph) Record(addr memaddr.Address) *registry.AllocationRecord {
	return g.records[addr]
}

// Traversal node states.
const (
	stateUnvisited = iota
	stateOnPath
	stateVisited
)

// dfsFrame is one explicit-stack traversal frame: a node plus the cursor into
// its adjacency list.
type dfsFrame struct {
	node int
	next int
}

// FindCycles runs an iterative depth-first search and returns every cycle
// found, each as an ordered list of handle addresses.
//
// The search uses three node states (unvisited, on-current-path, visited), an
// explicit frame stack instead of recursion (memory stays bounded on large
// graphs), and a path stack with per-node positions. When traversal reaches a
// neighbor that is on the current path, the cycle is the suffix of the path
// stack from that neighbor's position through the current node; the search
// records it and continues, trying every node as a root, so all back edges
// are reported, not just the first.
//
// Cycles of length 1 are handles listing themselves as their own clone.
func (g *Graph) FindCycles() [][]memaddr.Address {
	n := len(g.nodes)
	state := make([]int, n)
	pathPos := make([]int, n)
	for i := range pathPos {
		pathPos[i] = -1
	}

	var (
		cycles [][]memaddr.Address
		path   []int
		stack  []dfsFrame
	)

	push := func(node int) {
		state[node] = stateOnPath
		pathPos[node] = len(path)
		path = append(path, node)
		stack = append(stack, dfsFrame{node: node})
	}

	for root := 0; root < n; root++ {
		if state[root] != stateUnvisited {
			continue
		}
		push(root)

		for len(stack) > 0 {
			fr := &stack[len(stack)-1]
			if fr.next < len(g.adj[fr.node]) {
				nb := g.adj[fr.node][fr.next]
				fr.next++

				switch state[nb] {
				case stateUnvisited:
					push(nb)
				case stateOnPath:
					// Back edge: the cycle is path[pos(nb):].
					cycle := make([]memaddr.Address, 0, len(path)-pathPos[nb])
					for _, idx := range path[pathPos[nb]:] {
						cycle = append(cycle, g.nodes[idx])
					}
					cycles = append(cycles, cycle)
				}
				continue
			}

			// Node exhausted: retire it from the path.
			state[fr.node] = stateVisited
			pathPos[fr.node] = -1
			path = path[:len(path)-1]
			stack = stack[:len(stack)-1]
		}
	}
	return cycles
}
