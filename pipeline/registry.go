package pipeline

import (
	"errors"
	"fmt"
)

var errDuplicateEffect = errors.New("duplicate effect type")

// Factory builds one effect instance.
type Factory func() Effect

// Registry maps chain node types to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given effect type.
func (r *Registry) Register(effectType string, factory Factory) error {
	if effectType == "" {
		return errors.New("pipeline: empty effect type")
	}

	if factory == nil {
		return errors.New("pipeline: nil factory")
	}

	if _, exists := r.factories[effectType]; exists {
		return fmt.Errorf("pipeline: %w: %s", errDuplicateEffect, effectType)
	}

	r.factories[effectType] = factory

	return nil
}

// MustRegister is Register that panics on error, for package init wiring.
func (r *Registry) MustRegister(effectType string, factory Factory) {
	if err := r.Register(effectType, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the factory for effectType, or nil.
func (r *Registry) Lookup(effectType string) Factory {
	return r.factories[effectType]
}

// DefaultRegistry returns a registry with the built-in chain effects.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("eq", func() Effect { return NewEQ() })
	r.MustRegister("m1_trim", func() Effect { return NewTrim() })
	r.MustRegister("gain", func() Effect { return NewGain() })
	r.MustRegister("softclip", func() Effect { return NewSoftClip() })

	return r
}
