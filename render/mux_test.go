package render

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/algo-vj/bus"
	"github.com/cwbudde/algo-vj/internal/testutil"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	return append([]string(nil), j.entries...)
}

// fakeOwner records lifecycle calls and holds one surface resource while
// started. With hang set, Start parks until its context is cancelled.
type fakeOwner struct {
	kind     Kind
	label    string
	journal  *journal
	startErr error
	hang     bool

	mu      sync.Mutex
	res     *Resource
	started int
	stopped int
	frames  int
	filter  Filter
	zoom    float64
}

func (f *fakeOwner) Kind() Kind { return f.kind }

func (f *fakeOwner) Start(ctx context.Context, s *Surface) error {
	f.mu.Lock()
	f.started++
	f.res = s.Allocate("fake")
	f.mu.Unlock()

	if f.journal != nil {
		f.journal.add(f.label + ".start")
	}

	if f.hang {
		<-ctx.Done()
		return ctx.Err()
	}

	return f.startErr
}

func (f *fakeOwner) Frame(time.Time) {
	f.mu.Lock()
	f.frames++
	f.mu.Unlock()
}

func (f *fakeOwner) React(filter Filter, zoom float64) {
	f.mu.Lock()
	f.filter = filter
	f.zoom = zoom
	f.mu.Unlock()
}

func (f *fakeOwner) Stop() {
	f.mu.Lock()
	f.stopped++
	f.res.Release()
	f.res = nil
	f.mu.Unlock()

	if f.journal != nil {
		f.journal.add(f.label + ".stop")
	}
}

func (f *fakeOwner) counts() (started, stopped int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.started, f.stopped
}

func TestSwitchStopsPreviousOwnerBeforeNextStarts(t *testing.T) {
	t.Parallel()

	j := &journal{}
	a := &fakeOwner{kind: KindShader, label: "a", journal: j}
	b := &fakeOwner{kind: KindInlay, label: "b", journal: j}

	m := NewMux(NewSurface(8, 8))

	if err := m.Switch(a); err != nil {
		t.Fatalf("switch a: %v", err)
	}

	if err := m.Switch(b); err != nil {
		t.Fatalf("switch b: %v", err)
	}

	want := []string{"a.start", "a.stop", "b.start"}
	got := j.snapshot()

	if len(got) != len(want) {
		t.Fatalf("journal = %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("journal = %v, want %v", got, want)
		}
	}

	if live := m.Surface().LiveResources(); live != 1 {
		t.Fatalf("live resources = %d, want 1", live)
	}
}

func TestSwitchToNilClearsSurface(t *testing.T) {
	t.Parallel()

	m := NewMux(NewSurface(8, 8))
	a := &fakeOwner{kind: KindShader}

	if err := m.Switch(a); err != nil {
		t.Fatalf("switch: %v", err)
	}

	if err := m.Switch(nil); err != nil {
		t.Fatalf("switch nil: %v", err)
	}

	if _, ok := m.Active(); ok {
		t.Fatal("surface still owned after nil switch")
	}

	if live := m.Surface().LiveResources(); live != 0 {
		t.Fatalf("live resources = %d, want 0", live)
	}
}

func TestSwitchFailedStartLeavesSurfaceUnowned(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")

	m := NewMux(NewSurface(8, 8))
	a := &fakeOwner{kind: KindShader}
	b := &fakeOwner{kind: KindVideoLocal, startErr: errBoom}

	if err := m.Switch(a); err != nil {
		t.Fatalf("switch a: %v", err)
	}

	err := m.Switch(b)
	if !errors.Is(err, errBoom) {
		t.Fatalf("switch b error = %v, want %v", err, errBoom)
	}

	if _, ok := m.Active(); ok {
		t.Fatal("failed owner left surface owned")
	}

	if _, stopped := a.counts(); stopped != 1 {
		t.Fatalf("previous owner stopped %d times, want 1", stopped)
	}

	if _, stopped := b.counts(); stopped != 1 {
		t.Fatalf("failed owner stopped %d times, want 1", stopped)
	}

	if live := m.Surface().LiveResources(); live != 0 {
		t.Fatalf("live resources = %d, want 0", live)
	}
}

func TestSwitchCancelsPendingStart(t *testing.T) {
	t.Parallel()

	m := NewMux(NewSurface(8, 8))
	a := &fakeOwner{kind: KindVideoStream, hang: true}
	b := &fakeOwner{kind: KindShader}

	errc := make(chan error, 1)

	go func() { errc <- m.Switch(a) }()

	testutil.Eventually(t, time.Second, func() bool {
		started, _ := a.counts()
		return started == 1
	}, "hanging owner never entered Start")

	if err := m.Switch(b); err != nil {
		t.Fatalf("switch b: %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("superseded switch error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("superseded switch never returned")
	}

	kind, ok := m.Active()
	if !ok || kind != KindShader {
		t.Fatalf("active = %v (owned %v), want shader", kind, ok)
	}

	if _, stopped := a.counts(); stopped != 1 {
		t.Fatalf("cancelled owner stopped %d times, want 1", stopped)
	}

	if live := m.Surface().LiveResources(); live != 1 {
		t.Fatalf("live resources = %d, want 1", live)
	}
}

func TestFrameDrivesReactiveOwner(t *testing.T) {
	t.Parallel()

	events := bus.New()
	m := NewMux(NewSurface(8, 8))
	m.BindBus(events)

	f := &fakeOwner{kind: KindShader}
	if err := m.Switch(f); err != nil {
		t.Fatalf("switch: %v", err)
	}

	events.EmitFrequency("test", bus.Bands{Bass: 1}, 0.5)
	events.EmitBeat("test", 1, 0)

	before := m.Surface().Frames()
	m.Frame(time.Now())

	f.mu.Lock()
	filter, zoom, frames := f.filter, f.zoom, f.frames
	f.mu.Unlock()

	testutil.RequireNearlyEqual(t, filter.HueRotateDeg, 180, 1e-9)
	testutil.RequireNearlyEqual(t, zoom, 1.0225, 1e-9)

	if frames != 1 {
		t.Fatalf("owner drew %d frames, want 1", frames)
	}

	if got := m.Surface().Frames(); got != before+1 {
		t.Fatalf("presented frames = %d, want %d", got, before+1)
	}
}

func TestFrameWithoutOwnerStillPresents(t *testing.T) {
	t.Parallel()

	m := NewMux(NewSurface(8, 8))
	m.Frame(time.Now())

	if got := m.Surface().Frames(); got != 1 {
		t.Fatalf("presented frames = %d, want 1", got)
	}
}

func TestCloseStopsActiveOwner(t *testing.T) {
	t.Parallel()

	events := bus.New()
	m := NewMux(NewSurface(8, 8))
	m.BindBus(events)

	a := &fakeOwner{kind: KindShader}
	if err := m.Switch(a); err != nil {
		t.Fatalf("switch: %v", err)
	}

	m.Close()

	if _, ok := m.Active(); ok {
		t.Fatal("surface still owned after close")
	}

	if _, stopped := a.counts(); stopped != 1 {
		t.Fatalf("owner stopped %d times, want 1", stopped)
	}

	if live := m.Surface().LiveResources(); live != 0 {
		t.Fatalf("live resources = %d, want 0", live)
	}
}
