package clock

import (
	"math"
	"testing"
	"time"

	"github.com/cwbudde/algo-vj/bus"
	"github.com/cwbudde/algo-vj/midi"
)

// tick120 is the inter-tick interval of a 120 BPM clock at 24 PPQN.
const tick120 = time.Minute / (120 * ticksPerBeat)

// tick100 is the inter-tick interval of a 100 BPM clock.
const tick100 = 25 * time.Millisecond

type recorder struct {
	transports []bus.Transport
	beats      []bus.Beat
}

func record(b *bus.Bus) *recorder {
	rec := &recorder{}
	b.Subscribe(bus.KindTransport, func(ev bus.Event) {
		rec.transports = append(rec.transports, ev.(bus.Transport))
	})
	b.Subscribe(bus.KindBeat, func(ev bus.Event) {
		rec.beats = append(rec.beats, ev.(bus.Beat))
	})

	return rec
}

func feedTicks(r *Reconstructor, start time.Time, interval time.Duration, n int) time.Time {
	at := start
	for i := 0; i < n; i++ {
		r.Ingest(midi.Message{Type: midi.TypeClock}, at)
		at = at.Add(interval)
	}

	return at
}

func TestClockTempoFollowsTickRate(t *testing.T) {
	t.Parallel()

	b := bus.New()
	rec := record(b)
	r := New(b)

	t0 := time.Unix(100, 0)
	r.Ingest(midi.Message{Type: midi.TypeStart}, t0)

	// 25 ticks at 120 BPM spacing, then 48 at 100 BPM spacing.
	next := feedTicks(r, t0, tick120, 25)
	feedTicks(r, next, tick100, 48)

	if len(rec.transports) < 3 {
		t.Fatalf("got %d transport events, want at least 3", len(rec.transports))
	}

	if rec.transports[0].State != bus.PlayStart {
		t.Fatalf("first transport state = %v, want play", rec.transports[0].State)
	}

	// The first estimate converges on the feeding rate.
	var early float64

	for _, tr := range rec.transports[1:] {
		early = tr.BPM
		if math.Abs(early-120) < 0.01 {
			break
		}
	}

	if math.Abs(early-120) > 0.01 {
		t.Fatalf("early estimate = %v, want 120", early)
	}

	final := rec.transports[len(rec.transports)-1].BPM
	if math.Abs(final-100) > 0.01 {
		t.Fatalf("final estimate = %v, want 100", final)
	}

	// Beats fire on every 24th tick starting with the first after Start.
	if len(rec.beats) != 4 {
		t.Fatalf("got %d beats, want 4", len(rec.beats))
	}

	for i, beat := range rec.beats {
		if beat.Phase != 0 {
			t.Fatalf("beat %d phase = %v, want 0", i, beat.Phase)
		}
	}
}

func TestClockHysteresisSuppressesJitterlessRepeats(t *testing.T) {
	t.Parallel()

	b := bus.New()
	rec := record(b)
	r := New(b)

	t0 := time.Unix(100, 0)
	r.Ingest(midi.Message{Type: midi.TypeStart}, t0)
	feedTicks(r, t0, tick120, 60)

	// One for Start, one for the first estimate; a steady clock adds none.
	if len(rec.transports) != 2 {
		t.Fatalf("got %d transport events, want 2", len(rec.transports))
	}
}

func TestClockGapKeepsEstimate(t *testing.T) {
	t.Parallel()

	b := bus.New()
	rec := record(b)
	r := New(b)

	t0 := time.Unix(100, 0)
	r.Ingest(midi.Message{Type: midi.TypeStart}, t0)
	next := feedTicks(r, t0, tick120, 30)

	before := len(rec.transports)

	// Two seconds of silence, then the same rate resumes. The bridging
	// interval must not pollute the estimate.
	next = next.Add(2 * time.Second)
	feedTicks(r, next, tick120, 30)

	if math.Abs(r.BPM()-120) > 0.01 {
		t.Fatalf("BPM after gap = %v, want 120", r.BPM())
	}

	for _, tr := range rec.transports[before:] {
		if math.Abs(tr.BPM-120) > 0.01 {
			t.Fatalf("post-gap transport announced %v BPM", tr.BPM)
		}
	}
}

func TestClockStartDefaultsTo120(t *testing.T) {
	t.Parallel()

	b := bus.New()
	rec := record(b)
	r := New(b)

	r.Ingest(midi.Message{Type: midi.TypeStart}, time.Unix(100, 0))

	if len(rec.transports) != 1 {
		t.Fatalf("got %d transport events, want 1", len(rec.transports))
	}

	if rec.transports[0].BPM != bus.DefaultBPM {
		t.Fatalf("BPM = %v, want default %v", rec.transports[0].BPM, bus.DefaultBPM)
	}

	if !b.Transport().Snapshot(time.Unix(100, 1)).Playing {
		t.Fatal("transport should report playing after Start")
	}
}

func TestClockStopAndContinue(t *testing.T) {
	t.Parallel()

	b := bus.New()
	rec := record(b)
	r := New(b)

	t0 := time.Unix(100, 0)
	r.Ingest(midi.Message{Type: midi.TypeStart}, t0)
	r.Ingest(midi.Message{Type: midi.TypeStop}, t0.Add(time.Second))

	if b.Transport().Snapshot(t0.Add(2 * time.Second)).Playing {
		t.Fatal("transport should be stopped")
	}

	r.Ingest(midi.Message{Type: midi.TypeContinue}, t0.Add(3*time.Second))

	if !b.Transport().Snapshot(t0.Add(4 * time.Second)).Playing {
		t.Fatal("transport should be playing after Continue")
	}

	states := []bus.PlayState{bus.PlayStart, bus.PlayStop, bus.PlayContinue}
	if len(rec.transports) != len(states) {
		t.Fatalf("got %d transport events, want %d", len(rec.transports), len(states))
	}

	for i, want := range states {
		if rec.transports[i].State != want {
			t.Fatalf("transport %d state = %v, want %v", i, rec.transports[i].State, want)
		}
	}
}

func TestClockBeatWhileStopped(t *testing.T) {
	t.Parallel()

	b := bus.New()
	rec := record(b)
	r := New(b)

	// Ticks without Start keep the tempo estimate warm but emit no beats.
	feedTicks(r, time.Unix(100, 0), tick120, 30)

	if len(rec.beats) != 0 {
		t.Fatalf("got %d beats while stopped, want 0", len(rec.beats))
	}

	if math.Abs(r.BPM()-120) > 0.01 {
		t.Fatalf("BPM = %v, want 120 from free-running clock", r.BPM())
	}
}

func TestClockOnsetHintSetsBeatIntensity(t *testing.T) {
	t.Parallel()

	b := bus.New()
	rec := record(b)

	t0 := time.Unix(100, 0)
	now := t0
	r := New(b, WithNow(func() time.Time { return now }))

	r.Ingest(midi.Message{Type: midi.TypeStart}, t0)

	// Onset 10 ms before the first tick: the beat adopts its intensity.
	now = t0.Add(40 * time.Millisecond)
	r.OnsetHint(0.6)
	r.Ingest(midi.Message{Type: midi.TypeClock}, t0.Add(50*time.Millisecond))

	if len(rec.beats) != 1 || math.Abs(rec.beats[0].Intensity-0.6) > 1e-9 {
		t.Fatalf("beats = %+v, want one with intensity 0.6", rec.beats)
	}

	// The next boundary is far outside the onset window: default 1.0.
	feedTicks(r, t0.Add(50*time.Millisecond).Add(tick120), tick120, 24)

	if len(rec.beats) != 2 || rec.beats[1].Intensity != 1 {
		t.Fatalf("beats = %+v, want second with intensity 1", rec.beats)
	}
}

func TestClockSongPositionRealignsBeat(t *testing.T) {
	t.Parallel()

	b := bus.New()
	rec := record(b)
	r := New(b)

	t0 := time.Unix(100, 0)
	r.Ingest(midi.Message{Type: midi.TypeStart}, t0)
	next := feedTicks(r, t0, tick120, 2)

	// Jump to one whole beat in: the counter realigns so the very next
	// tick is a boundary.
	r.Ingest(midi.Message{Type: midi.TypeSongPosition, Data1: 4, Data2: 0}, next)

	snap := b.Transport().Snapshot(next)
	if math.Abs(snap.BarPhase-0.25) > 1e-9 {
		t.Fatalf("bar phase = %v, want 0.25", snap.BarPhase)
	}

	beats := len(rec.beats)

	r.Ingest(midi.Message{Type: midi.TypeClock}, next.Add(tick120))

	if len(rec.beats) != beats+1 {
		t.Fatalf("tick after SPP emitted %d beats, want 1", len(rec.beats)-beats)
	}
}

func TestClockFeedDecodesRawBytes(t *testing.T) {
	t.Parallel()

	b := bus.New()
	rec := record(b)
	r := New(b)

	r.Feed([]byte{0xFA, 0xF8})

	if len(rec.transports) != 1 || rec.transports[0].State != bus.PlayStart {
		t.Fatalf("transports = %+v, want a single play", rec.transports)
	}

	if len(rec.beats) != 1 {
		t.Fatalf("beats = %d, want 1 from the first tick", len(rec.beats))
	}
}
