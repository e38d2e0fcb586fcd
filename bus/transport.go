package bus

import (
	"math"
	"sync"
	"time"
)

// Tempo bounds shared across the engine.
const (
	// DefaultBPM is assumed until the first tempo estimate arrives.
	DefaultBPM = 120.0
	// MaxBPM caps announced tempi.
	MaxBPM = 999.0
)

const beatsPerBar = 4

// TransportSnapshot is a point-in-time read of the shared transport state.
type TransportSnapshot struct {
	BPM       float64
	BeatPhase float64 // [0,1)
	BarPhase  float64 // [0,1)
	Playing   bool
}

// TransportState is the process-wide tempo, phase, and run-state record.
// It is written from TRANSPORT and BEAT traffic flowing through the bus and
// read once per display frame by the renderers. Between anchors the phases
// advance linearly at the current tempo.
type TransportState struct {
	mu        sync.Mutex
	bpm       float64
	playing   bool
	beatPhase float64 // phase at anchor
	barPhase  float64
	beatInBar int
	anchor    time.Time
}

// NewTransportState returns a stopped transport at the default tempo.
func NewTransportState() *TransportState {
	return &TransportState{bpm: DefaultBPM}
}

// Snapshot returns the transport state at now. While playing, the phases
// are extrapolated from their last anchor at the current tempo.
func (t *TransportState) Snapshot(now time.Time) TransportSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := TransportSnapshot{
		BPM:       t.bpm,
		BeatPhase: t.beatPhase,
		BarPhase:  t.barPhase,
		Playing:   t.playing,
	}
	if !t.playing || t.anchor.IsZero() || t.bpm <= 0 {
		return s
	}

	beats := now.Sub(t.anchor).Seconds() * t.bpm / 60
	if beats < 0 {
		beats = 0
	}

	s.BeatPhase = frac(t.beatPhase + beats)
	s.BarPhase = frac(t.barPhase + beats/beatsPerBar)

	return s
}

// SetSongPosition re-anchors both phases from a song position expressed in
// sixteenth-notes, as carried by MIDI Song Position Pointer.
func (t *TransportState) SetSongPosition(pos int, at time.Time) {
	if pos < 0 {
		pos = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.beatPhase = frac(float64(pos) / 4)
	t.barPhase = frac(float64(pos) / 16)
	t.beatInBar = (pos / 4) % beatsPerBar
	t.anchor = at
}

// applyTransport folds a TRANSPORT event into the state. Start rewinds the
// phases to the song top; Continue resumes from the frozen position; Stop
// freezes the phases where extrapolation left them. The run-state change is
// applied before the tempo so the freeze uses the tempo that produced the
// elapsed phase.
func (t *TransportState) applyTransport(ev Transport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.State {
	case PlayStart:
		t.playing = true
		t.beatPhase = 0
		t.barPhase = 0
		t.beatInBar = 0
		t.anchor = ev.At
	case PlayContinue:
		t.freezeLocked(ev.At)
		t.playing = true
		t.anchor = ev.At
	case PlayStop:
		t.freezeLocked(ev.At)
		t.playing = false
	}

	if ev.BPM > 0 && !math.IsNaN(ev.BPM) && !math.IsInf(ev.BPM, 0) {
		t.bpm = math.Min(ev.BPM, MaxBPM)
	}
}

// applyBeat anchors the beat phase on a BEAT event and steps the bar
// counter.
func (t *TransportState) applyBeat(ev Beat) {
	t.mu.Lock()
	defer t.mu.Unlock()

	phase := frac(ev.Phase)
	t.beatPhase = phase
	t.barPhase = frac(float64(t.beatInBar)/beatsPerBar + phase/beatsPerBar)
	t.beatInBar = (t.beatInBar + 1) % beatsPerBar
	t.anchor = ev.At
}

// freezeLocked materializes the extrapolated phases at time at so they stop
// advancing. No-op unless currently playing with a usable anchor.
func (t *TransportState) freezeLocked(at time.Time) {
	if !t.playing || t.anchor.IsZero() || t.bpm <= 0 {
		return
	}

	beats := at.Sub(t.anchor).Seconds() * t.bpm / 60
	if beats < 0 {
		beats = 0
	}

	t.beatPhase = frac(t.beatPhase + beats)
	t.barPhase = frac(t.barPhase + beats/beatsPerBar)
	t.anchor = at
}

// frac wraps x into [0,1).
func frac(x float64) float64 {
	f := math.Mod(x, 1)
	if f < 0 {
		f++
	}

	return f
}
