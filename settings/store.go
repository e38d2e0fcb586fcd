// Package settings persists the handful of user choices the engine restores
// on startup as a flat string-to-string map: last preset, MIDI device,
// renderer, OSC bind address.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Keys the engine core reads and writes.
const (
	KeyLastPreset = "lastPresetId"
	KeyMIDIInput  = "midiInputId"
	KeyRenderer   = "renderer"
	KeyOSCServer  = "oscServer"
)

// Store is the persistence collaborator handed to the engine. Values are
// opaque strings; absent keys read as not-ok.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Save() error
}

// File is a Store backed by one JSON object on disk.
type File struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

// Open loads the store at path. A missing file yields an empty store; it is
// created on the first Save.
func Open(path string) (*File, error) {
	f := &File{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}

	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &f.values); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}

	return f, nil
}

// DefaultPath returns the per-user settings location,
// ~/.config/algo-vj/settings.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("settings: resolve home: %w", err)
	}

	return filepath.Join(home, ".config", "algo-vj", "settings.json"), nil
}

// Get implements Store.
func (f *File) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.values[key]

	return v, ok
}

// Set implements Store. An empty value deletes the key.
func (f *File) Set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if value == "" {
		delete(f.values, key)
		return
	}

	f.values[key] = value
}

// Save writes the store to disk, creating parent directories as needed.
func (f *File) Save() error {
	f.mu.Lock()
	data, err := json.MarshalIndent(f.values, "", "  ")
	f.mu.Unlock()

	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("settings: create %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("settings: write %s: %w", f.path, err)
	}

	return nil
}

// Mem is an in-memory Store for tests and for running without persistence.
type Mem struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMem returns an empty in-memory store.
func NewMem() *Mem {
	return &Mem{values: make(map[string]string)}
}

// Get implements Store.
func (m *Mem) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]

	return v, ok
}

// Set implements Store.
func (m *Mem) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if value == "" {
		delete(m.values, key)
		return
	}

	m.values[key] = value
}

// Save implements Store. It never fails.
func (m *Mem) Save() error { return nil }
