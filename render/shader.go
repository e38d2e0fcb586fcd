package render

import (
	"context"
	"math"
	"sync"
	"time"
)

// ShaderOwner renders the built-in procedural scenes: a full-surface stripe
// field whose palette rotates with time and with the audio-reactive hue. It
// is the default owner and the fallback when another owner fails.
type ShaderOwner struct {
	mu      sync.Mutex
	surface *Surface
	program *Resource
	phase   float64
	last    time.Time
	filter  Filter
	zoom    float64
}

// NewShader creates the procedural scene owner.
func NewShader() *ShaderOwner {
	return &ShaderOwner{filter: NeutralFilter(), zoom: 1}
}

// Kind implements Owner.
func (o *ShaderOwner) Kind() Kind { return KindShader }

// Start implements Owner.
func (o *ShaderOwner) Start(_ context.Context, s *Surface) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.surface = s
	o.program = s.Allocate("program")
	o.phase = 0
	o.last = time.Time{}

	return nil
}

// React implements Reactive.
func (o *ShaderOwner) React(f Filter, zoom float64) {
	o.mu.Lock()
	o.filter = f
	o.zoom = zoom
	o.mu.Unlock()
}

// Frame implements Owner.
func (o *ShaderOwner) Frame(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.surface == nil {
		return
	}

	if !o.last.IsZero() {
		o.phase += now.Sub(o.last).Seconds() * 0.5
	}

	o.last = now

	w, h := o.surface.Size()
	o.surface.SetFilter(o.filter)

	const stripes = 24

	zoom := o.zoom
	if zoom <= 0 {
		zoom = 1
	}

	stripeW := (w + stripes - 1) / stripes

	for i := 0; i < stripes; i++ {
		hue := o.filter.HueRotateDeg + o.phase*60 + float64(i)*360/stripes
		val := 0.5 + 0.5*math.Sin(o.phase*2+float64(i)/zoom)
		c := HSV(hue, o.filter.Saturate*0.6, val*o.filter.Brightness*0.8)

		o.surface.FillRect(Rect{X: i * stripeW, W: stripeW, H: h}, c)
	}
}

// Stop implements Owner.
func (o *ShaderOwner) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.program.Release()
	o.program = nil
	o.surface = nil
}
