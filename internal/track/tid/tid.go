// Copyright 2025 The alloctrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tid provides an opaque integer identity for the thread (goroutine)
// recording a tracked event.
//
// The identity is the runtime's goroutine ID, extracted by parsing the first
// line of a runtime.Stack dump. This is the portable slow path (~1.5µs per
// call); it is only invoked on tracking operations, never inside a store's
// critical section, so the cost does not extend lock hold times.
//
// An integer identity keeps comparisons and hashing cheap. Formatting a
// human-readable label is deferred to report rendering.
package tid

import "runtime"

// ID is an opaque thread identity. IDs are unique among live goroutines and
// are never reused while the goroutine runs; 0 means "unknown".
type ID int64

// Current returns the identity of the calling goroutine.
//
// Returns 0 if the stack header cannot be parsed (not expected in practice).
func Current() ID {
	// Only the first line is needed: "goroutine 123 [running]:\n..."
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGID(buf[:n])
}

// parseGID extracts the goroutine ID from stack trace bytes.
//
// Expected format: "goroutine 123 [running]:...". Direct byte parsing, no
// regex, no string allocation beyond the prefix check.
func parseGID(buf []byte) ID {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}

	var gid int64
	for i := len(prefix); i < len(buf); i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		gid = gid*10 + int64(c-'0')
	}
	return ID(gid)
}
