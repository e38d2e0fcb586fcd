package render

import (
	"context"
	"sync"
	"time"
)

// Scene3DOwner hands the display cadence to the preset runtime: while it
// owns the surface, every frame forwards to the tick callback and the
// mounted preset instance draws. The runtime keeps the instance mounted
// across ownership changes, so switching away pauses the scene rather than
// disposing it.
type Scene3DOwner struct {
	tick func(now time.Time)

	mu     sync.Mutex
	active bool
}

// NewScene3D creates a preset-scene owner driving the given tick callback.
func NewScene3D(tick func(now time.Time)) *Scene3DOwner {
	return &Scene3DOwner{tick: tick}
}

// Kind implements Owner.
func (o *Scene3DOwner) Kind() Kind { return KindScene3D }

// Start implements Owner.
func (o *Scene3DOwner) Start(context.Context, *Surface) error {
	o.mu.Lock()
	o.active = true
	o.mu.Unlock()

	return nil
}

// Frame implements Owner.
func (o *Scene3DOwner) Frame(now time.Time) {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()

	if active && o.tick != nil {
		o.tick(now)
	}
}

// Stop implements Owner.
func (o *Scene3DOwner) Stop() {
	o.mu.Lock()
	o.active = false
	o.mu.Unlock()
}
