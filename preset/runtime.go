package preset

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwbudde/algo-vj/bus"
	"github.com/cwbudde/algo-vj/render"
)

// ErrPresetInit reports that a preset failed inside Initialize; the
// previously mounted preset stays active.
var ErrPresetInit = errors.New("preset initialize failed")

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger routes runtime logging through log.
func WithLogger(log *slog.Logger) Option {
	return func(r *Runtime) {
		if log != nil {
			r.log = log
		}
	}
}

// Runtime owns the mounted preset instance. Event routing and frame ticks
// are serialized against mounting, so an instance never observes a callback
// after its Dispose has begun and a swap is atomic from the instance's point
// of view.
type Runtime struct {
	log       *slog.Logger
	surface   *render.Surface
	transport *bus.TransportState

	mountMu sync.Mutex

	mu      sync.Mutex
	current Instance
	id      string
	prev    time.Time
	subs    []*bus.Subscription
}

// NewRuntime creates a runtime drawing into surface and routing events from
// the given bus.
func NewRuntime(events *bus.Bus, surface *render.Surface, opts ...Option) *Runtime {
	r := &Runtime{
		log:       slog.Default(),
		surface:   surface,
		transport: events.Transport(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.subs = []*bus.Subscription{
		events.Subscribe(bus.KindBeat, r.route),
		events.Subscribe(bus.KindNote, r.route),
		events.Subscribe(bus.KindControl, r.route),
		events.Subscribe(bus.KindFrequency, r.route),
	}

	return r
}

// Mount atomically replaces the current instance with one built by factory.
// The outgoing instance leaves the event path before the new one
// initializes and is disposed exactly once after the new one is active.
// When Initialize fails the half-mounted instance is disposed best-effort
// and the previous instance is restored.
func (r *Runtime) Mount(id string, factory Factory) error {
	r.mountMu.Lock()
	defer r.mountMu.Unlock()

	r.mu.Lock()
	old := r.current
	oldID := r.id
	r.current = nil
	r.mu.Unlock()

	next := factory()

	if err := r.initialize(next); err != nil {
		r.safely("dispose", id, next.Dispose)

		r.mu.Lock()
		r.current = old
		r.id = oldID
		r.mu.Unlock()

		return fmt.Errorf("preset: mount %q: %w", id, err)
	}

	r.mu.Lock()
	r.current = next
	r.id = id
	r.prev = time.Time{}
	r.mu.Unlock()

	if old != nil {
		r.safely("dispose", oldID, old.Dispose)
	}

	r.log.Info("preset: mounted", "preset", id)

	return nil
}

// Unmount disposes the current instance, leaving the runtime empty. Safe to
// call when nothing is mounted.
func (r *Runtime) Unmount() {
	r.mountMu.Lock()
	defer r.mountMu.Unlock()

	r.mu.Lock()
	old := r.current
	oldID := r.id
	r.current = nil
	r.id = ""
	r.mu.Unlock()

	if old == nil {
		return
	}

	r.safely("dispose", oldID, old.Dispose)
	r.log.Info("preset: unmounted", "preset", oldID)
}

// CurrentID returns the id of the mounted preset, or "" when empty.
func (r *Runtime) CurrentID() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.id
}

// Tick advances the mounted instance by one display frame. The first tick
// after a mount sees dt = 0.
func (r *Runtime) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.prev
	r.prev = now

	if r.current == nil {
		return
	}

	dt := now.Sub(prev)
	if prev.IsZero() || dt < 0 {
		dt = 0
	}

	inst := r.current
	r.safely("update", r.id, func() { inst.Update(dt) })
}

// Close detaches from the bus and unmounts.
func (r *Runtime) Close() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}

	r.Unmount()
}

// route delivers one bus event to the mounted instance. Holding the lock
// across the callback keeps delivery serialized against mounting, which is
// what guarantees no callback ever lands on a disposed instance.
func (r *Runtime) route(ev bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst := r.current
	if inst == nil {
		return
	}

	switch e := ev.(type) {
	case bus.Beat:
		r.safely("onBeat", r.id, func() { inst.OnBeat(e.Intensity) })
	case bus.Note:
		r.safely("onNote", r.id, func() { inst.OnNote(e.Note, e.Velocity, e.On) })
	case bus.Control:
		r.safely("onControl", r.id, func() { inst.OnControl(e.ID, e.Value) })
	case bus.Frequency:
		r.safely("onFrequency", r.id, func() { inst.OnFrequency(e.Bands, e.RMS) })
	}
}

// initialize runs Initialize with panics folded into ErrPresetInit.
func (r *Runtime) initialize(inst Instance) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", ErrPresetInit, rec)
		}
	}()

	ctx := Context{Surface: r.surface, Transport: r.transport, Log: r.log}
	if initErr := inst.Initialize(ctx); initErr != nil {
		return fmt.Errorf("%w: %v", ErrPresetInit, initErr)
	}

	return nil
}

// safely demotes a panicking instance callback to a log entry so one faulty
// preset cannot take the frame loop or the bus down.
func (r *Runtime) safely(op, id string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("preset: callback panicked", "op", op, "preset", id, "panic", rec)
		}
	}()

	fn()
}
