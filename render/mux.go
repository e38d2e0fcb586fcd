package render

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwbudde/algo-vj/bus"
)

// MuxOption configures a Mux.
type MuxOption func(*Mux)

// WithMuxLogger routes multiplexer logging through log.
func WithMuxLogger(log *slog.Logger) MuxOption {
	return func(m *Mux) {
		if log != nil {
			m.log = log
		}
	}
}

// Mux arbitrates ownership of the surface. At most one owner is active;
// switching dismisses the previous owner and releases its resources before
// the next one starts, and a switch arriving while a slow start is still in
// flight aborts that start. The mux also folds bus traffic into the shared
// audio-reactive decoration and pushes it to reactive owners once per frame.
type Mux struct {
	log     *slog.Logger
	surface *Surface
	zoom    *BeatZoom

	mu            sync.Mutex
	active        Owner
	activeCancel  context.CancelFunc
	pendingCancel context.CancelFunc
	bands         bus.Bands
	subs          []*bus.Subscription

	switchMu sync.Mutex
}

// NewMux creates a multiplexer for the given surface with no active owner.
func NewMux(surface *Surface, opts ...MuxOption) *Mux {
	m := &Mux{
		log:     slog.Default(),
		surface: surface,
		zoom:    NewBeatZoom(),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Surface returns the surface the mux arbitrates.
func (m *Mux) Surface() *Surface { return m.surface }

// BindBus subscribes the decoration state to BEAT and FREQUENCY traffic.
func (m *Mux) BindBus(b *bus.Bus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subs = append(m.subs,
		b.Subscribe(bus.KindBeat, func(ev bus.Event) {
			if beat, ok := ev.(bus.Beat); ok {
				m.zoom.OnBeat(beat.Intensity, beat.At)
			}
		}),
		b.Subscribe(bus.KindFrequency, func(ev bus.Event) {
			if freq, ok := ev.(bus.Frequency); ok {
				m.mu.Lock()
				m.bands = freq.Bands
				m.mu.Unlock()
			}
		}),
	)
}

// Switch makes next the active owner. The current owner is stopped and its
// resources released before next starts; a nil next leaves the surface
// unowned and cleared. When next fails to start the surface stays unowned
// and the error is returned. A Switch arriving while an earlier Switch is
// still starting cancels that start first.
func (m *Mux) Switch(next Owner) error {
	m.mu.Lock()
	if m.pendingCancel != nil {
		m.pendingCancel()
	}
	m.mu.Unlock()

	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	m.mu.Lock()
	old := m.active
	oldCancel := m.activeCancel
	m.active = nil
	m.activeCancel = nil
	m.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}

	if old != nil {
		old.Stop()
		m.log.Debug("render: owner dismissed", "kind", old.Kind().String())
	}

	m.surface.Clear()

	if next == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.pendingCancel = cancel
	m.mu.Unlock()

	err := next.Start(ctx, m.surface)

	m.mu.Lock()
	m.pendingCancel = nil
	m.mu.Unlock()

	if err != nil {
		cancel()
		next.Stop()
		m.surface.Clear()

		return fmt.Errorf("render: start %s: %w", next.Kind(), err)
	}

	m.mu.Lock()
	m.active = next
	m.activeCancel = cancel
	m.mu.Unlock()

	m.log.Info("render: owner switched", "kind", next.Kind().String())

	return nil
}

// Active returns the kind of the active owner, or false when the surface is
// unowned.
func (m *Mux) Active() (Kind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return 0, false
	}

	return m.active.Kind(), true
}

// Frame advances the decoration and draws one frame through the active
// owner. An unowned surface still presents, so downstream frame pacing
// never stalls on a failed owner.
func (m *Mux) Frame(now time.Time) {
	m.mu.Lock()
	active := m.active
	bands := m.bands
	m.mu.Unlock()

	zoom := m.zoom.Step()

	if active != nil {
		if r, ok := active.(Reactive); ok {
			r.React(FilterFor(bands), zoom)
		}

		active.Frame(now)
	}

	m.surface.Present()
}

// Close dismisses the active owner and detaches from the bus.
func (m *Mux) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}

	_ = m.Switch(nil)
}
