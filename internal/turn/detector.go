// Package turn decides when the user has finished an utterance, from a
// live stream of partial-transcription events, without waiting for an
// explicit end-of-audio signal.
package turn

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSilenceWindow is the contiguous-silence duration after which an
// open turn finalizes.
const DefaultSilenceWindow = 2 * time.Second

// Boundary is a finalized turn.
type Boundary struct {
	Transcript string
	At         time.Time
}

// Detector is a state machine over one session's open turn. Each partial
// transcript replaces the accumulated text (the recognizer emits
// cumulative transcripts per utterance) and re-arms a single-slot silence
// timer; finalization fires only after a strictly-contiguous window of
// silence, or on an explicit stop.
//
// Callbacks run outside the detector's lock and must not block for long:
// onUpdate fires on every partial, onBoundary once per finalized turn.
type Detector struct {
	window     time.Duration
	onUpdate   func(transcript string)
	onBoundary func(Boundary)
	logger     *zap.Logger

	mu         sync.Mutex
	timer      *time.Timer
	speaking   bool
	transcript string
}

// NewDetector creates a detector. A zero window means DefaultSilenceWindow.
func NewDetector(window time.Duration, onUpdate func(string), onBoundary func(Boundary), logger *zap.Logger) *Detector {
	if window <= 0 {
		window = DefaultSilenceWindow
	}
	return &Detector{
		window:     window,
		onUpdate:   onUpdate,
		onBoundary: onBoundary,
		logger:     logger,
	}
}

// OnPartial records the current best transcript for the open turn,
// opening a new turn if none is open, and pushes the silence deadline out
// to now + window. Re-arming cancels the pending timer rather than
// stacking a second one.
func (d *Detector) OnPartial(transcript string) {
	d.mu.Lock()
	d.transcript = transcript
	d.speaking = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.onSilence)
	d.mu.Unlock()

	if d.onUpdate != nil {
		d.onUpdate(transcript)
	}
}

// Finish finalizes the open turn immediately, bypassing the silence
// timer. A turn with an empty transcript is discarded silently.
func (d *Detector) Finish() {
	d.mu.Lock()
	boundary, ok := d.finalizeLocked()
	d.mu.Unlock()

	if ok {
		d.emit(boundary)
	}
}

// Stop disarms the timer and discards any open turn without emitting a
// boundary. Used on connection teardown.
func (d *Detector) Stop() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.speaking = false
	d.transcript = ""
	d.mu.Unlock()
}

// onSilence runs when the silence window elapses without a new partial.
// A stale fire after Finish already reset the state is a no-op, because
// finalizeLocked sees an empty transcript.
func (d *Detector) onSilence() {
	d.mu.Lock()
	boundary, ok := d.finalizeLocked()
	d.mu.Unlock()

	if ok {
		d.emit(boundary)
	}
}

func (d *Detector) finalizeLocked() (Boundary, bool) {
	if !d.speaking || d.transcript == "" {
		return Boundary{}, false
	}

	boundary := Boundary{
		Transcript: d.transcript,
		At:         time.Now(),
	}

	d.speaking = false
	d.transcript = ""
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	return boundary, true
}

func (d *Detector) emit(boundary Boundary) {
	if d.logger != nil {
		d.logger.Info("Turn finalized",
			zap.String("transcript", boundary.Transcript),
			zap.Time("at", boundary.At))
	}
	if d.onBoundary != nil {
		d.onBoundary(boundary)
	}
}
