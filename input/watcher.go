package input

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cwbudde/algo-vj/bus"
	"github.com/cwbudde/algo-vj/settings"
)

// defaultExcluded filters the software loopback ports ALSA and friends
// expose; connecting to those would echo our own output back in.
var defaultExcluded = []string{"Midi Through", "Through Port"}

const defaultRescanInterval = time.Second

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger, default slog.Default.
func WithWatcherLogger(log *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// WithPreferred sets name fragments that mark a port as the device of
// choice when several are present. Matching is case-insensitive.
func WithPreferred(patterns ...string) WatcherOption {
	return func(w *Watcher) { w.preferred = patterns }
}

// WithExcluded replaces the default loopback-port exclusion list.
func WithExcluded(patterns ...string) WatcherOption {
	return func(w *Watcher) { w.excluded = patterns }
}

// WithRescanInterval sets the Run polling interval, default one second.
func WithRescanInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithStore persists the connected device name under settings.KeyMIDIInput
// and prefers that device on later scans.
func WithStore(store settings.Store) WatcherOption {
	return func(w *Watcher) { w.store = store }
}

// WithTiming routes the connected device's real-time traffic to sink.
func WithTiming(sink TimingSink) WatcherOption {
	return func(w *Watcher) { w.timing = sink }
}

// Watcher keeps exactly one MIDI device bound to the bus: it scans the
// available ports, connects the best candidate, and when the connected
// device disappears it announces a transport stop, unbinds the source and
// immediately tries the remaining ports.
type Watcher struct {
	log       *slog.Logger
	events    *bus.Bus
	ports     Ports
	timing    TimingSink
	store     settings.Store
	preferred []string
	excluded  []string
	interval  time.Duration

	mu        sync.Mutex
	connected string
}

// NewWatcher creates a watcher over ports publishing to events.
func NewWatcher(events *bus.Bus, ports Ports, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		log:      slog.Default(),
		events:   events,
		ports:    ports,
		excluded: defaultExcluded,
		interval: defaultRescanInterval,
	}
	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Connected returns the name of the bound device, or "" when none is.
func (w *Watcher) Connected() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.connected
}

// Run scans immediately and then on every interval tick until ctx ends. On
// return the bound device, if any, is released.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Tick()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.connected != "" {
				w.disconnectLocked("shutdown")
			}
			w.mu.Unlock()

			return
		case <-ticker.C:
			w.Tick()
		}
	}
}

// Tick performs one scan: verify the bound device is still present, or
// connect the best available candidate.
func (w *Watcher) Tick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	ports, err := w.ports.List()
	if err != nil {
		w.log.Error("input: midi scan failed", "err", err)
		return
	}

	usable := ports[:0]

	for _, p := range ports {
		if !matchesAny(p.Name(), w.excluded) {
			usable = append(usable, p)
		}
	}

	if w.connected != "" {
		for _, p := range usable {
			if p.Name() == w.connected {
				return
			}
		}

		w.disconnectLocked("disappeared")
	}

	cand := w.pick(usable)
	if cand == nil {
		return
	}

	w.connectLocked(cand)
}

// pick chooses the connection candidate: the persisted device if present,
// else a preferred-pattern match, else a lone input.
func (w *Watcher) pick(ports []Port) Port {
	if w.store != nil {
		if stored, ok := w.store.Get(settings.KeyMIDIInput); ok {
			for _, p := range ports {
				if p.Name() == stored {
					return p
				}
			}
		}
	}

	for _, p := range ports {
		if matchesAny(p.Name(), w.preferred) {
			return p
		}
	}

	if len(ports) == 1 {
		return ports[0]
	}

	return nil
}

func (w *Watcher) connectLocked(port Port) {
	name := port.Name()

	src := NewDeviceSource(port,
		WithDeviceTiming(w.timing),
		WithDeviceLogger(w.log),
		WithDeviceError(func(error) {
			// The hook fires on the driver thread; re-enter on our own.
			go w.drop(name)
		}),
	)

	if err := src.Open(); err != nil {
		w.log.Error("input: midi connect failed", "port", name, "err", err)
		return
	}

	if err := w.events.Register(src); err != nil {
		_ = src.Close()
		w.log.Error("input: midi register failed", "port", name, "err", err)

		return
	}

	w.connected = name
	w.log.Info("input: midi connected", "port", name)

	if w.store != nil {
		w.store.Set(settings.KeyMIDIInput, name)

		if err := w.store.Save(); err != nil {
			w.log.Warn("input: persist midi device failed", "err", err)
		}
	}
}

// disconnectLocked releases the bound device. The transport stop goes out
// before the unregister so it survives the source's queue purge.
func (w *Watcher) disconnectLocked(reason string) {
	name := w.connected
	w.connected = ""

	w.events.EmitTransport(name, bus.PlayStop, 0)

	if err := w.events.Unregister(name); err != nil {
		w.log.Warn("input: midi unregister failed", "port", name, "err", err)
	}

	w.log.Warn("input: midi disconnected", "port", name, "reason", reason)
}

// drop releases the named device if it is still the bound one.
func (w *Watcher) drop(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.connected == name {
		w.disconnectLocked("listener error")
	}
}

func matchesAny(name string, patterns []string) bool {
	lower := strings.ToLower(name)

	for _, p := range patterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}

	return false
}
