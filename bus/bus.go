package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

// ErrDuplicateName is returned by Register in strict mode when the source
// name is already bound.
var ErrDuplicateName = errors.New("duplicate source name")

// ErrUnknownSource is returned by Unregister for names that are not bound.
var ErrUnknownSource = errors.New("unknown source")

// Handler consumes bus events.
type Handler func(Event)

// Subscription identifies one bound handler. Cancel detaches it; after
// Cancel returns the handler receives no further events, including events
// later in a dispatch that is already running.
type Subscription struct {
	bus    *Bus
	kind   Kind
	all    bool
	fn     Handler
	active atomic.Bool
}

// Cancel detaches the subscription. Safe to call from inside a handler and
// safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}

	s.bus.remove(s)
}

type binding struct {
	source     Emitter
	detach     func()
	persistent bool
}

// Bus is the process-wide input bus. Publishing is serialized: events are
// queued and dispatched one at a time in arrival order, so a handler that
// publishes re-entrantly never observes interleaved delivery and two events
// from one source are always delivered in emission order.
type Bus struct {
	log       *slog.Logger
	now       func() time.Time
	transport *TransportState

	mu          sync.Mutex
	sources     map[string]*binding
	subs        map[Kind][]*Subscription
	all         []*Subscription
	queue       []Event
	scratch     []*Subscription
	dispatching bool
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		log:       slog.Default(),
		now:       time.Now,
		transport: NewTransportState(),
		sources:   make(map[string]*binding),
		subs:      make(map[Kind][]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Transport returns the shared transport state the bus maintains.
func (b *Bus) Transport() *TransportState { return b.transport }

// Register binds src so that everything it emits is republished on the bus
// under its name. A name already in use is rebound, detaching the previous
// binding first, unless Strict is given.
func (b *Bus) Register(src Emitter, opts ...RegisterOption) error {
	var cfg registerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	name := src.Name()
	if name == "" {
		return errors.New("bus: empty source name")
	}

	b.mu.Lock()
	if prev, ok := b.sources[name]; ok {
		if cfg.strict {
			b.mu.Unlock()
			return fmt.Errorf("bus: register %q: %w", name, ErrDuplicateName)
		}

		b.unbindLocked(name, prev)
		b.log.Debug("bus: source rebound", "source", name)
	}

	bind := &binding{source: src, persistent: cfg.persistent}
	b.sources[name] = bind
	b.mu.Unlock()

	// Attach outside the lock: sources may emit synchronously from Attach.
	detach := src.Attach(func(ev Event) {
		b.forward(name, bind, ev)
	})

	b.mu.Lock()
	if b.sources[name] == bind {
		bind.detach = detach
		b.mu.Unlock()

		return nil
	}
	b.mu.Unlock()

	// Lost a rebind race while attaching; drop the stale attachment.
	if detach != nil {
		detach()
	}

	return nil
}

// Unregister unbinds the named source and drops its queued events. Unless
// the source was registered as Persistent, its Close is called when it
// implements Closer.
func (b *Bus) Unregister(name string) error {
	b.mu.Lock()
	bind, ok := b.sources[name]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("bus: unregister %q: %w", name, ErrUnknownSource)
	}

	b.unbindLocked(name, bind)

	// Queued but undelivered events from this source must not surface
	// after the unregister returns.
	kept := b.queue[:0]

	for _, ev := range b.queue {
		if ev.Source() != name {
			kept = append(kept, ev)
		}
	}

	b.queue = kept
	b.mu.Unlock()

	if bind.persistent {
		return nil
	}

	if c, ok := bind.source.(Closer); ok {
		if err := c.Close(); err != nil {
			b.log.Warn("bus: source close failed", "source", name, "err", err)
		}
	}

	return nil
}

// Sources returns the currently bound source names, sorted.
func (b *Bus) Sources() []string {
	b.mu.Lock()
	names := make([]string, 0, len(b.sources))

	for name := range b.sources {
		names = append(names, name)
	}
	b.mu.Unlock()

	sort.Strings(names)

	return names
}

// unbindLocked detaches and forgets a binding. The detach func must not
// publish back into the bus.
func (b *Bus) unbindLocked(name string, bind *binding) {
	if bind.detach != nil {
		bind.detach()
		bind.detach = nil
	}

	delete(b.sources, name)
}

// Subscribe binds fn to one event kind.
func (b *Bus) Subscribe(kind Kind, fn Handler) *Subscription {
	s := &Subscription{bus: b, kind: kind, fn: fn}
	s.active.Store(true)

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], s)
	b.mu.Unlock()

	return s
}

// SubscribeAll binds fn to every event kind.
func (b *Bus) SubscribeAll(fn Handler) *Subscription {
	s := &Subscription{bus: b, all: true, fn: fn}
	s.active.Store(true)

	b.mu.Lock()
	b.all = append(b.all, s)
	b.mu.Unlock()

	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.all {
		b.all = removeSub(b.all, s)
		return
	}

	b.subs[s.kind] = removeSub(b.subs[s.kind], s)
}

func removeSub(list []*Subscription, s *Subscription) []*Subscription {
	for i, cur := range list {
		if cur == s {
			return append(list[:i], list[i+1:]...)
		}
	}

	return list
}

// Publish places ev on the bus. Events are delivered in publish order; when
// called from inside a handler, delivery happens after the current event
// has been handled by every subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	b.enqueueLocked(ev)
}

// forward republishes a source emission, verifying the binding is still the
// live one so late emissions from replaced sources are dropped.
func (b *Bus) forward(name string, bind *binding, ev Event) {
	b.mu.Lock()
	if b.sources[name] != bind {
		b.mu.Unlock()
		return
	}

	b.enqueueLocked(ev)
}

// enqueueLocked appends ev to the queue and drains it unless another call
// is already draining. The caller must hold b.mu; the lock is released on
// return and while handlers run.
func (b *Bus) enqueueLocked(ev Event) {
	b.queue = append(b.queue, ev)
	if b.dispatching {
		b.mu.Unlock()
		return
	}

	b.dispatching = true

	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]

		b.applyTransport(next)

		b.scratch = b.scratch[:0]
		b.scratch = append(b.scratch, b.subs[next.Kind()]...)
		b.scratch = append(b.scratch, b.all...)
		targets := b.scratch
		b.mu.Unlock()

		for _, s := range targets {
			b.invoke(s, next)
		}

		b.mu.Lock()
	}

	b.dispatching = false
	b.mu.Unlock()
}

// applyTransport keeps the shared transport state in step with transport
// and beat traffic before subscribers see the event.
func (b *Bus) applyTransport(ev Event) {
	switch e := ev.(type) {
	case Transport:
		b.transport.applyTransport(e)
	case Beat:
		b.transport.applyBeat(e)
	}
}

// invoke runs one handler, re-checking liveness immediately before the call
// and demoting panics to log entries so one faulty consumer cannot take the
// bus down.
func (b *Bus) invoke(s *Subscription, ev Event) {
	if !s.active.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("bus: handler panicked",
				"kind", ev.Kind().String(),
				"source", ev.Source(),
				"panic", r)
		}
	}()

	s.fn(ev)
}

// EmitBeat publishes a BEAT from source, clamping intensity to [0,1] and
// wrapping phase into [0,1).
func (b *Bus) EmitBeat(source string, intensity, phase float64) {
	b.Publish(Beat{
		Meta:      b.meta(source),
		Intensity: core.Clamp(intensity, 0, 1),
		Phase:     frac(phase),
	})
}

// EmitNote publishes a NOTE from source.
func (b *Bus) EmitNote(source string, note, velocity uint8, on bool) {
	b.Publish(Note{
		Meta:     b.meta(source),
		Note:     note & 0x7F,
		Velocity: velocity & 0x7F,
		On:       on,
	})
}

// EmitControl publishes a CONTROL from source with value clamped to [0,1].
func (b *Bus) EmitControl(source string, id uint8, value float64) {
	b.Publish(Control{
		Meta:  b.meta(source),
		ID:    id & 0x7F,
		Value: core.Clamp(value, 0, 1),
	})
}

// EmitTransport publishes a TRANSPORT from source with bpm clamped to the
// announceable range.
func (b *Bus) EmitTransport(source string, state PlayState, bpm float64) {
	b.Publish(Transport{
		Meta:  b.meta(source),
		State: state,
		BPM:   core.Clamp(bpm, 0, MaxBPM),
	})
}

// EmitFrequency publishes a FREQUENCY frame from source with all energies
// clamped to [0,1].
func (b *Bus) EmitFrequency(source string, bands Bands, rms float64) {
	b.Publish(Frequency{
		Meta: b.meta(source),
		Bands: Bands{
			Bass: core.Clamp(bands.Bass, 0, 1),
			Mid:  core.Clamp(bands.Mid, 0, 1),
			High: core.Clamp(bands.High, 0, 1),
		},
		RMS: core.Clamp(rms, 0, 1),
	})
}

// EmitSysEx publishes a SYSEX from source. The payload is copied.
func (b *Bus) EmitSysEx(source string, data []byte) {
	payload := make([]byte, len(data))
	copy(payload, data)

	b.Publish(SysEx{
		Meta:  b.meta(source),
		Bytes: payload,
	})
}

func (b *Bus) meta(source string) Meta {
	return Meta{From: source, At: b.now()}
}
