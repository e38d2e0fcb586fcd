package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cwbudde/algo-vj/internal/testutil"
)

func startedHost(t *testing.T, format Format, mod ModuleData, opts ...Option) *Host {
	t.Helper()

	h := NewHost(format, opts...)
	if err := h.Start(context.Background(), mod); err != nil {
		t.Fatalf("Start: %v", err)
	}

	t.Cleanup(func() { _ = h.Close() })

	return h
}

func TestHostHandshakeReady(t *testing.T) {
	t.Parallel()

	h := startedHost(t, Format{SampleRate: testSampleRate, BlockSize: 64}, DefaultModule())

	if !h.Ready() {
		t.Fatal("host not ready after successful handshake")
	}

	if got := h.State(); got != StateReady {
		t.Fatalf("State = %v, want %v", got, StateReady)
	}

	h.SetGain(BandMid, 75)

	if got := h.KnobEcho(BandMid); got != 75 {
		t.Fatalf("KnobEcho(mid) = %v, want 75", got)
	}

	if err := h.Start(context.Background(), DefaultModule()); !errors.Is(err, errAlreadyStarted) {
		t.Fatalf("second Start = %v, want errAlreadyStarted", err)
	}
}

func TestHostRejectsBrokenModule(t *testing.T) {
	t.Parallel()

	h := NewHost(Format{SampleRate: testSampleRate, BlockSize: 64})
	defer h.Close()

	mod := ModuleData{JSCode: `{"chain":[{"name":"dup","type":"eq"},{"name":"dup","type":"eq"}]}`}

	err := h.Start(context.Background(), mod)
	if !errors.Is(err, ErrModuleLoad) {
		t.Fatalf("Start = %v, want ErrModuleLoad", err)
	}

	if got := h.State(); got != StateFailed {
		t.Fatalf("State = %v, want %v", got, StateFailed)
	}

	// After a failed load the knobs must keep their last good position.
	h.SetGain(BandLow, 10)

	if got := h.KnobEcho(BandLow); got != 50 {
		t.Fatalf("KnobEcho(low) after failed load = %v, want 50", got)
	}

	h.SetEnabled("eq", false)
	h.SetParam("eq", "low", 0.2)
}

func TestHostStartAborted(t *testing.T) {
	t.Parallel()

	h := NewHost(Format{SampleRate: testSampleRate, BlockSize: 64})
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Start(ctx, DefaultModule())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Start = %v, want context.Canceled", err)
	}

	if got := h.State(); got != StateFailed {
		t.Fatalf("State = %v, want %v", got, StateFailed)
	}
}

// stallEffect blocks Configure until released, keeping the processor inside
// the module install for as long as a test needs.
type stallEffect struct {
	release <-chan struct{}
}

func (e *stallEffect) Configure(Format, Params) error {
	<-e.release
	return nil
}

func (e *stallEffect) SetParam(string, float64) error { return nil }

func (e *stallEffect) Process([]float64) {}

func TestHostHandshakeTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	reg := DefaultRegistry()
	reg.MustRegister("stall", func() Effect { return &stallEffect{release: release} })

	h := NewHost(Format{SampleRate: testSampleRate, BlockSize: 64},
		WithRegistry(reg),
		WithHandshakeTimeout(100*time.Millisecond),
	)

	mod := ModuleData{JSCode: `{"chain":[{"name":"s","type":"stall"}]}`}

	err := h.Start(context.Background(), mod)
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("Start = %v, want ErrHandshakeTimeout", err)
	}

	close(release)
	_ = h.Close()
}

func TestHostCloseWithoutStart(t *testing.T) {
	t.Parallel()

	h := NewHost(Format{SampleRate: testSampleRate, BlockSize: 64})
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestHostBuffersChangesBeforeStart(t *testing.T) {
	t.Parallel()

	h := NewHost(Format{SampleRate: testSampleRate, BlockSize: 64})
	defer h.Close()

	h.SetGain(BandLow, 0)

	// The mirror moves immediately even though the frame is still buffered.
	if got := h.KnobEcho(BandLow); got != 0 {
		t.Fatalf("KnobEcho(low) = %v, want 0", got)
	}

	if !h.IsKilled(BandLow) {
		t.Fatal("low band not reported killed")
	}

	if err := h.Start(context.Background(), DefaultModule()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// pumpRMS drives a 100 Hz sine through a started host for n output samples
// and returns their level. The input ring is topped up gradually so the
// signal stays contiguous.
func pumpRMS(t *testing.T, h *Host, n int) float64 {
	t.Helper()

	const block = 64

	sig := testutil.DeterministicSine(100, testSampleRate, 0.5, 1<<16)
	buf := make([]float64, block)
	got := make([]float64, 0, n)
	off := 0

	deadline := time.Now().Add(10 * time.Second)
	for len(got) < n {
		if time.Now().After(deadline) {
			t.Fatalf("pipeline produced %d of %d samples before deadline", len(got), n)
		}

		if h.Input().Len() <= block*4 {
			h.Input().Write(sig[off : off+block])
			off = (off + block) % (len(sig) - block)
		}

		if h.Output().Len() >= block {
			h.Output().Read(buf)
			got = append(got, buf...)
		} else {
			time.Sleep(time.Millisecond)
		}
	}

	// Skip the filter transient and any zero-fill from before the first
	// input block arrived.
	return testutil.RMS(got[n/4:])
}

func TestHostProcessesAudio(t *testing.T) {
	t.Parallel()

	format := Format{SampleRate: testSampleRate, BlockSize: 64}

	flat := startedHost(t, format, DefaultModule())
	flatRMS := pumpRMS(t, flat, 8192)

	killed := NewHost(format)
	killed.SetGain(BandLow, 0)

	if err := killed.Start(context.Background(), DefaultModule()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	t.Cleanup(func() { _ = killed.Close() })

	killedRMS := pumpRMS(t, killed, 8192)

	if flatRMS < 0.2 {
		t.Fatalf("flat chain RMS = %.4f, want a 0.5 amplitude sine to pass through", flatRMS)
	}

	// The kill was buffered before the handshake, so it must have been
	// flushed into the chain ahead of the audio.
	if killedRMS >= flatRMS*0.35 {
		t.Fatalf("killed low band RMS = %.4f vs flat %.4f, want strong attenuation", killedRMS, flatRMS)
	}
}
