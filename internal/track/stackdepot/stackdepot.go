// Copyright 2025 The alloctrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stackdepot implements call-stack capture, storage and deduplication
// for allocation records and safety-violation reports.
//
// A Depot stores each unique stack once, keyed by an FNV-1a hash of its
// program counters. Records and violations hold *Stack pointers, so a hot
// allocation site costs one capture plus one map lookup, not a fresh
// allocation per event.
//
// Unlike a process-global depot, every engine owns its own Depot instance so
// independent engines (and tests) are fully isolated.
//
// Design:
//   - Capped-depth capture (configurable, default 32 frames)
//   - Hash-based deduplication (FNV-1a over raw PCs)
//   - sync.Map storage (read-mostly after warmup)
//   - Lazy symbolization: frames are resolved on first use, off the hot path
package stackdepot

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
	"unsafe"
)

// DefaultMaxFrames is the default capture depth. Most provenance questions are
// answered by the top of the stack; deeper captures cost memory per unique
// site with little diagnostic gain.
const DefaultMaxFrames = 32

// Frame is one resolved stack frame.
type Frame struct {
	// Function is the fully qualified function name.
	Function string

	// File is the source file path ("" if unknown).
	File string

	// Line is the source line (0 if unknown).
	Line int

	// Unchecked marks frames inside manually-verified (unchecked) code
	// regions, matched by the depot's configured function prefixes.
	Unchecked bool
}

// Stack is a captured, deduplicated call stack.
//
// Identical capture sites share one Stack instance, so pointer equality
// implies stack equality. Symbolized frames are resolved lazily and cached.
type Stack struct {
	pcs  []uintptr
	hash uint64

	resolveOnce sync.Once
	frames      []Frame
	depot       *Depot
}

// Depot stores unique stacks for one engine instance.
//
// Thread Safety: all methods are safe for concurrent use.
type Depot struct {
	maxFrames         int
	uncheckedPrefixes []string
	stacks            sync.Map // uint64 (hash) -> *Stack
}

// New creates a Depot.
//
// maxFrames caps the capture depth (DefaultMaxFrames if <= 0).
// uncheckedPrefixes lists function-name prefixes whose frames are flagged as
// unchecked regions (may be nil).
func New(maxFrames int, uncheckedPrefixes []string) *Depot {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	return &Depot{
		maxFrames:         maxFrames,
		uncheckedPrefixes: uncheckedPrefixes,
	}
}

// Capture captures the current call stack and returns its deduplicated Stack.
//
// skip is the number of frames to skip before recording, counting from the
// caller of Capture (0 starts at the caller). If the same stack was captured
// before, the existing instance is returned and nothing is allocated beyond
// the scratch PC buffer.
//
// Returns nil if no stack is available (not expected in practice).
//
// Callers must invoke Capture outside any store critical section: capture
// cost must never extend a lock hold time.
func (d *Depot) Capture(skip int) *Stack {
	pcs := make([]uintptr, d.maxFrames)
	// +2 skips runtime.Callers and Capture itself.
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}
	pcs = pcs[:n]

	hash := hashPCs(pcs)
	if val, ok := d.stacks.Load(hash); ok {
		return val.(*Stack)
	}

	st := &Stack{pcs: pcs, hash: hash, depot: d}
	actual, _ := d.stacks.LoadOrStore(hash, st)
	return actual.(*Stack)
}

// Stats returns the number of unique stacks stored and an approximate memory
// footprint in bytes. O(N) over the depot; not for hot paths.
func (d *Depot) Stats() (uniqueStacks int, approxBytes int64) {
	d.stacks.Range(func(_, val any) bool {
		uniqueStacks++
		st := val.(*Stack)
		// 8 bytes per PC plus map entry overhead.
		approxBytes += int64(len(st.pcs))*8 + 48
		return true
	})
	return uniqueStacks, approxBytes
}

// isUnchecked reports whether a function name falls inside a configured
// unchecked region.
func (d *Depot) isUnchecked(function string) bool {
	for _, p := range d.uncheckedPrefixes {
		if strings.HasPrefix(function, p) {
			return true
		}
	}
	return false
}

// hashPCs computes the FNV-1a hash of the program counters.
//
// FNV-1a is fast and well distributed for PC sequences; it is the same choice
// ThreadSanitizer-style depots make.
func hashPCs(pcs []uintptr) uint64 {
	h := fnv.New64a()
	for _, pc := range pcs {
		//nolint:gosec // G103: reading the PC value as bytes for hashing only.
		b := (*[8]byte)(unsafe.Pointer(&pc))[:]
		_, _ = h.Write(b)
	}
	return h.Sum64()
}

// Hash returns the stack's deduplication hash (0 for a nil stack).
func (s *Stack) Hash() uint64 {
	if s == nil {
		return 0
	}
	return s.hash
}

// Frames returns the symbolized frames, resolving them on first call.
//
// Resolution uses runtime.CallersFrames (~10µs) and is cached, so repeated
// formatting of the same stack is cheap. Runtime-internal frames are kept:
// filtering happens at formatting time, not here, so analyzers see the full
// capture.
func (s *Stack) Frames() []Frame {
	if s == nil {
		return nil
	}
	s.resolveOnce.Do(func() {
		frames := runtime.CallersFrames(s.pcs)
		for {
			fr, more := frames.Next()
			if fr.PC == 0 {
				break
			}
			s.frames = append(s.frames, Frame{
				Function:  fr.Function,
				File:      fr.File,
				Line:      fr.Line,
				Unchecked: s.depot.isUnchecked(fr.Function),
			})
			if !more {
				break
			}
		}
	})
	return s.frames
}

// Format renders the stack in the conventional two-line-per-frame form:
//
//	main.worker()
//	    /path/to/file.go:45
//
// Runtime-internal frames are filtered; if everything is filtered a
// placeholder line is returned. Safe on a nil stack.
func (s *Stack) Format() string {
	if s == nil {
		return "  <unknown>\n"
	}

	var buf strings.Builder
	for _, fr := range s.Frames() {
		if strings.HasPrefix(fr.Function, "runtime.") {
			continue
		}
		fmt.Fprintf(&buf, "  %s()\n", fr.Function)
		fmt.Fprintf(&buf, "      %s:%d\n", fr.File, fr.Line)
	}

	if buf.Len() == 0 {
		return "  <runtime internal>\n"
	}
	return buf.String()
}
