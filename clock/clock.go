// Package clock reconstructs tempo, beats, and transport state from MIDI
// system real-time traffic, optionally refined by audio onset hints.
package clock

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/core"

	"github.com/cwbudde/algo-vj/bus"
	"github.com/cwbudde/algo-vj/midi"
)

const (
	// ticksPerBeat is the MIDI clock rate: 24 pulses per quarter-note.
	ticksPerBeat = 24
	// maxTickGap is the silence threshold. A longer pause between ticks
	// while playing discards that interval instead of folding it into the
	// tempo estimate.
	maxTickGap = time.Second
	// hysteresisBPM suppresses TRANSPORT chatter from jittery intervals.
	hysteresisBPM = 0.1
	// onsetWindow is how far back an audio onset may lie and still lend a
	// beat its intensity.
	onsetWindow = 30 * time.Millisecond
	// defaultWindow is the sliding window length, in inter-tick intervals,
	// of the tempo estimator.
	defaultWindow = 24
)

// Reconstructor turns raw MIDI timing into BEAT and TRANSPORT events on the
// bus and keeps the shared transport phases anchored. All derived state is
// deterministic in the ingestion timestamps.
type Reconstructor struct {
	bus    *bus.Bus
	log    *slog.Logger
	source string
	now    func() time.Time
	window int

	mu         sync.Mutex
	dec        midi.Decoder
	intervals  []time.Duration
	lastTick   time.Time
	haveTick   bool
	tickCount  int
	playing    bool
	bpm        float64
	onsetAt    time.Time
	onsetLevel float64
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Reconstructor) {
		if log != nil {
			r.log = log
		}
	}
}

// WithNow injects the timestamp source used by Feed and OnsetHint.
func WithNow(now func() time.Time) Option {
	return func(r *Reconstructor) {
		if now != nil {
			r.now = now
		}
	}
}

// WithSource sets the bus source name, default "clock".
func WithSource(name string) Option {
	return func(r *Reconstructor) {
		if name != "" {
			r.source = name
		}
	}
}

// WithWindow sets the tempo estimator window length in intervals.
func WithWindow(n int) Option {
	return func(r *Reconstructor) {
		if n > 0 {
			r.window = n
		}
	}
}

// New creates a Reconstructor publishing on b.
func New(b *bus.Bus, opts ...Option) *Reconstructor {
	r := &Reconstructor{
		bus:    b,
		log:    slog.Default(),
		source: "clock",
		now:    time.Now,
		window: defaultWindow,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// emission is a bus event decided under the lock and published after it.
type emission struct {
	transport bool
	state     bus.PlayState
	bpm       float64
	beat      bool
	intensity float64
}

// Feed consumes raw MIDI bytes, stamping them with the reconstructor clock.
func (r *Reconstructor) Feed(p []byte) {
	at := r.now()

	r.mu.Lock()
	msgs := r.dec.FeedAll(p)
	r.mu.Unlock()

	for _, m := range msgs {
		r.Ingest(m, at)
	}
}

// Ingest applies one decoded message observed at the given time. Voice
// messages are ignored; only system real-time and song position traffic
// drives the reconstruction.
func (r *Reconstructor) Ingest(m midi.Message, at time.Time) {
	r.mu.Lock()
	pending := r.apply(m, at)
	r.mu.Unlock()

	for _, e := range pending {
		if e.transport {
			r.bus.EmitTransport(r.source, e.state, e.bpm)
		}

		if e.beat {
			r.bus.EmitBeat(r.source, e.intensity, 0)
		}
	}
}

// OnsetHint records an audio-derived onset. A beat boundary within the
// look-back window adopts its intensity instead of the 1.0 default.
func (r *Reconstructor) OnsetHint(intensity float64) {
	at := r.now()

	r.mu.Lock()
	r.onsetAt = at
	r.onsetLevel = core.Clamp(intensity, 0, 1)
	r.mu.Unlock()
}

// BPM returns the current tempo estimate, or the default when no ticks have
// been measured yet.
func (r *Reconstructor) BPM() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.currentBPM()
}

func (r *Reconstructor) apply(m midi.Message, at time.Time) []emission {
	switch m.Type {
	case midi.TypeClock:
		return r.applyTick(at)
	case midi.TypeStart:
		r.playing = true
		r.tickCount = 0
		r.haveTick = false

		return []emission{{transport: true, state: bus.PlayStart, bpm: r.currentBPM()}}
	case midi.TypeContinue:
		r.playing = true
		r.haveTick = false

		return []emission{{transport: true, state: bus.PlayContinue, bpm: r.currentBPM()}}
	case midi.TypeStop:
		r.playing = false

		return []emission{{transport: true, state: bus.PlayStop, bpm: r.currentBPM()}}
	case midi.TypeSongPosition:
		pos := m.SongPosition()
		r.bus.Transport().SetSongPosition(pos, at)
		// Ticks run at six per sixteenth; realign the beat counter so the
		// next boundary lands where the pointer says it should.
		r.tickCount = (pos % 4) * 6

		return nil
	default:
		return nil
	}
}

func (r *Reconstructor) applyTick(at time.Time) []emission {
	var out []emission

	if r.haveTick {
		iv := at.Sub(r.lastTick)
		if iv > 0 && iv <= maxTickGap {
			r.intervals = append(r.intervals, iv)
			if len(r.intervals) > r.window {
				r.intervals = r.intervals[1:]
			}

			est := r.estimate()
			if est > 0 && math.Abs(est-r.bpm) > hysteresisBPM {
				r.bpm = est
				state := bus.PlayStop
				if r.playing {
					state = bus.PlayContinue
				}

				out = append(out, emission{transport: true, state: state, bpm: est})
			}
		} else if iv > maxTickGap {
			r.log.Debug("clock: tick gap dropped", "gap", iv)
		}
	}

	r.lastTick = at
	r.haveTick = true

	if r.playing {
		if r.tickCount == 0 {
			intensity := 1.0
			if !r.onsetAt.IsZero() && at.Sub(r.onsetAt) >= 0 && at.Sub(r.onsetAt) <= onsetWindow {
				intensity = r.onsetLevel
			}

			out = append(out, emission{beat: true, intensity: intensity})
		}

		r.tickCount = (r.tickCount + 1) % ticksPerBeat
	}

	return out
}

// estimate is the mean of the interval window converted to BPM.
func (r *Reconstructor) estimate() float64 {
	if len(r.intervals) == 0 {
		return 0
	}

	var sum time.Duration
	for _, iv := range r.intervals {
		sum += iv
	}

	mean := sum.Seconds() / float64(len(r.intervals))
	if mean <= 0 {
		return 0
	}

	return 60 / (mean * ticksPerBeat)
}

func (r *Reconstructor) currentBPM() float64 {
	if r.bpm > 0 {
		return r.bpm
	}

	return bus.DefaultBPM
}
