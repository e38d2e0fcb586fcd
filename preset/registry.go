package preset

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownPreset reports a lookup for an id that was never registered.
var ErrUnknownPreset = errors.New("unknown preset")

// ErrDuplicatePreset reports a second registration under the same id.
var ErrDuplicatePreset = errors.New("duplicate preset")

// Registry maps stable preset ids to factories. Registration order is kept
// so UIs can cycle through presets deterministically.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds id to factory.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return errors.New("preset: empty preset id")
	}

	if factory == nil {
		return fmt.Errorf("preset: register %q: nil factory", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[id]; ok {
		return fmt.Errorf("preset: register %q: %w", id, ErrDuplicatePreset)
	}

	r.factories[id] = factory
	r.order = append(r.order, id)

	return nil
}

// Lookup returns the factory registered under id.
func (r *Registry) Lookup(id string) (Factory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("preset: %w: %q", ErrUnknownPreset, id)
	}

	return factory, nil
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.order...)
}

// Next returns the id following current in registration order, wrapping at
// the end. An unknown or empty current returns the first id; an empty
// registry returns "".
func (r *Registry) Next(current string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return ""
	}

	for i, id := range r.order {
		if id == current {
			return r.order[(i+1)%len(r.order)]
		}
	}

	return r.order[0]
}

// Builtin returns a registry holding the presets that ship with the engine.
func Builtin() *Registry {
	r := NewRegistry()
	_ = r.Register("tunnel", newTunnel)
	_ = r.Register("bars", newBars)

	return r
}
