package turn

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// recorder collects detector events under a lock so tests can assert on
// them after timers fire.
type recorder struct {
	mu         sync.Mutex
	updates    []string
	boundaries []Boundary
}

func (r *recorder) onUpdate(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, text)
}

func (r *recorder) onBoundary(b Boundary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boundaries = append(r.boundaries, b)
}

func (r *recorder) boundaryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.boundaries)
}

func (r *recorder) lastBoundary(t *testing.T) Boundary {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.boundaries) == 0 {
		t.Fatal("no boundary emitted")
	}
	return r.boundaries[len(r.boundaries)-1]
}

func newTestDetector(window time.Duration) (*Detector, *recorder) {
	rec := &recorder{}
	d := NewDetector(window, rec.onUpdate, rec.onBoundary, zap.NewNop())
	return d, rec
}

func TestDetector_ContinuousSpeechDoesNotFinalize(t *testing.T) {
	d, rec := newTestDetector(120 * time.Millisecond)

	// Partials arrive faster than the silence window; the timer must be
	// re-armed each time so no boundary fires mid-sentence.
	for i := 0; i < 6; i++ {
		d.OnPartial("still talking")
		time.Sleep(40 * time.Millisecond)
	}

	if n := rec.boundaryCount(); n != 0 {
		t.Fatalf("expected no boundary during continuous speech, got %d", n)
	}

	// Then silence past the window finalizes exactly once.
	time.Sleep(250 * time.Millisecond)
	if n := rec.boundaryCount(); n != 1 {
		t.Fatalf("expected exactly one boundary after silence, got %d", n)
	}
}

func TestDetector_FinalizesWithLastPartialText(t *testing.T) {
	// The reference scenario: partials "hel", "hello", "hello there"
	// 500ms apart with a 2s window, then silence. Scaled down 10x so the
	// test runs quickly: 50ms gaps against a 200ms window, 210ms silence.
	d, rec := newTestDetector(200 * time.Millisecond)

	for _, text := range []string{"hel", "hello", "hello there"} {
		d.OnPartial(text)
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(260 * time.Millisecond)

	if n := rec.boundaryCount(); n != 1 {
		t.Fatalf("expected exactly one boundary, got %d", n)
	}
	if got := rec.lastBoundary(t).Transcript; got != "hello there" {
		t.Errorf("expected transcript 'hello there', got %q", got)
	}
}

func TestDetector_UpdatesAreCumulativeReplacements(t *testing.T) {
	d, rec := newTestDetector(time.Second)

	d.OnPartial("hel")
	d.OnPartial("hello")
	d.Finish()

	if got := rec.lastBoundary(t).Transcript; got != "hello" {
		t.Errorf("expected replacement semantics, got %q", got)
	}

	rec.mu.Lock()
	updates := len(rec.updates)
	rec.mu.Unlock()
	if updates != 2 {
		t.Errorf("expected a live update per partial, got %d", updates)
	}
}

func TestDetector_ExplicitStopFinalizesImmediately(t *testing.T) {
	d, rec := newTestDetector(time.Second)

	d.OnPartial("cut me off")
	d.Finish()

	if n := rec.boundaryCount(); n != 1 {
		t.Fatalf("expected immediate boundary on explicit stop, got %d", n)
	}

	// The pending timer must have been cancelled: no second boundary.
	time.Sleep(1200 * time.Millisecond)
	if n := rec.boundaryCount(); n != 1 {
		t.Fatalf("timer fired after explicit stop: %d boundaries", n)
	}
}

func TestDetector_EmptyTranscriptExpiryIsNoOp(t *testing.T) {
	d, rec := newTestDetector(50 * time.Millisecond)

	d.OnPartial("")
	time.Sleep(150 * time.Millisecond)

	if n := rec.boundaryCount(); n != 0 {
		t.Fatalf("expected no boundary for empty transcript, got %d", n)
	}

	d.Finish()
	if n := rec.boundaryCount(); n != 0 {
		t.Fatalf("explicit stop with empty transcript emitted a boundary")
	}
}

func TestDetector_NewTurnAfterFinalization(t *testing.T) {
	d, rec := newTestDetector(80 * time.Millisecond)

	d.OnPartial("first turn")
	time.Sleep(150 * time.Millisecond)

	d.OnPartial("second turn")
	time.Sleep(150 * time.Millisecond)

	if n := rec.boundaryCount(); n != 2 {
		t.Fatalf("expected two boundaries, got %d", n)
	}
	rec.mu.Lock()
	first, second := rec.boundaries[0].Transcript, rec.boundaries[1].Transcript
	rec.mu.Unlock()
	if first != "first turn" || second != "second turn" {
		t.Errorf("boundaries carried wrong transcripts: %q, %q", first, second)
	}
}

func TestDetector_StopDiscardsWithoutBoundary(t *testing.T) {
	d, rec := newTestDetector(50 * time.Millisecond)

	d.OnPartial("going away")
	d.Stop()
	time.Sleep(120 * time.Millisecond)

	if n := rec.boundaryCount(); n != 0 {
		t.Fatalf("Stop should discard the open turn, got %d boundaries", n)
	}
}
