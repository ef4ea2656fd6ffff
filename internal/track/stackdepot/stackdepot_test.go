package stackdepot

import (
	"strings"
	"testing"
)

// captureHere exists so tests have a named frame to look for.
//
//go:noinline
func captureHere(d *Depot) *Stack {
	return d.Capture(0)
}

func TestCaptureDeduplicates(t *testing.T) {
	d := New(0, nil)

	var stacks []*Stack
	for i := 0; i < 10; i++ {
		stacks = append(stacks, captureHere(d))
	}

	for i := 1; i < len(stacks); i++ {
		if stacks[i] != stacks[0] {
			t.Fatalf("capture %d from the same site returned a different instance", i)
		}
	}

	unique, _ := d.Stats()
	if unique != 1 {
		t.Errorf("depot holds %d unique stacks, want 1", unique)
	}
}

func TestCaptureDifferentSites(t *testing.T) {
	d := New(0, nil)

	a := captureHere(d)
	b := d.Capture(0)

	if a == b {
		t.Error("different capture sites shared one stack instance")
	}
	if a.Hash() == b.Hash() {
		t.Error("different capture sites produced equal hashes")
	}
}

func TestFramesContainCaller(t *testing.T) {
	d := New(0, nil)
	st := captureHere(d)

	var found bool
	for _, fr := range st.Frames() {
		if strings.Contains(fr.Function, "captureHere") {
			found = true
			if fr.File == "" || fr.Line == 0 {
				t.Errorf("frame %q missing file/line: %q:%d", fr.Function, fr.File, fr.Line)
			}
		}
	}
	if !found {
		t.Errorf("captureHere not found in frames: %v", st.Frames())
	}
}

func TestMaxFramesCapsDepth(t *testing.T) {
	d := New(2, nil)

	var deep func(n int) *Stack
	deep = func(n int) *Stack {
		if n == 0 {
			return d.Capture(0)
		}
		return deep(n - 1)
	}
	st := deep(10)

	if got := len(st.Frames()); got > 2 {
		t.Errorf("captured %d frames with maxFrames=2", got)
	}
}

func TestUncheckedPrefixFlagging(t *testing.T) {
	d := New(0, []string{"github.com/kolkov/alloctrack/internal/track/stackdepot.captureHere"})
	st := captureHere(d)

	var flagged bool
	for _, fr := range st.Frames() {
		if strings.Contains(fr.Function, "captureHere") && fr.Unchecked {
			flagged = true
		}
		if !strings.Contains(fr.Function, "captureHere") && fr.Unchecked {
			t.Errorf("frame %q flagged unchecked without a matching prefix", fr.Function)
		}
	}
	if !flagged {
		t.Error("captureHere frame not flagged unchecked")
	}
}

func TestFormat(t *testing.T) {
	d := New(0, nil)
	st := captureHere(d)

	out := st.Format()
	if !strings.Contains(out, "captureHere") {
		t.Errorf("Format output missing capture site:\n%s", out)
	}
	if strings.Contains(out, "runtime.") {
		t.Errorf("Format output contains runtime-internal frames:\n%s", out)
	}
}

func TestNilStack(t *testing.T) {
	var st *Stack
	if st.Hash() != 0 {
		t.Error("nil stack hash should be 0")
	}
	if st.Frames() != nil {
		t.Error("nil stack should have nil frames")
	}
	if got := st.Format(); got != "  <unknown>\n" {
		t.Errorf("nil stack Format = %q", got)
	}
}

func TestConcurrentCapture(t *testing.T) {
	d := New(0, nil)

	done := make(chan *Stack, 32)
	for i := 0; i < 32; i++ {
		go func() {
			done <- captureHere(d)
		}()
	}

	first := <-done
	for i := 1; i < 32; i++ {
		if st := <-done; st != first {
			t.Fatal("concurrent captures from one site returned different instances")
		}
	}
}
