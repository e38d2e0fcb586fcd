package render

import (
	"sync"
	"time"

	"github.com/cwbudde/algo-vj/bus"
)

// Filter is the CSS-style decoration derived from spectral band energy.
// The neutral decoration is {0, 1, 1}.
type Filter struct {
	HueRotateDeg float64
	Saturate     float64
	Brightness   float64
}

// NeutralFilter returns the identity decoration.
func NeutralFilter() Filter {
	return Filter{Saturate: 1, Brightness: 1}
}

// FilterFor derives the decoration from normalized band energies:
// hue rotation scales with bass up to a half turn, saturation with mid up to
// 1.5x, brightness with high up to 1.3x.
func FilterFor(b bus.Bands) Filter {
	return Filter{
		HueRotateDeg: b.Bass * 180,
		Saturate:     1 + b.Mid*0.5,
		Brightness:   1 + b.High*0.3,
	}
}

const (
	beatZoomGain    = 0.15
	zoomSmoothing   = 0.15
	zoomTargetDecay = 0.10
	beatZoomMinGap  = 100 * time.Millisecond
)

// BeatZoom smooths beat impulses into a zoom factor. Each beat raises the
// zoom target with the beat intensity; every frame the zoom chases the
// target and the target decays toward 1. Beats closer than 100 ms to the
// previous one are ignored.
type BeatZoom struct {
	mu       sync.Mutex
	zoom     float64
	target   float64
	lastBeat time.Time
}

// NewBeatZoom returns a zoom at rest (factor 1).
func NewBeatZoom() *BeatZoom {
	return &BeatZoom{zoom: 1, target: 1}
}

// OnBeat raises the zoom target for a beat of the given intensity observed
// at the given instant.
func (z *BeatZoom) OnBeat(intensity float64, at time.Time) {
	z.mu.Lock()
	defer z.mu.Unlock()

	if !z.lastBeat.IsZero() && at.Sub(z.lastBeat) < beatZoomMinGap {
		return
	}

	z.lastBeat = at
	z.target = 1 + intensity*beatZoomGain
}

// Step advances one display frame and returns the new zoom factor.
func (z *BeatZoom) Step() float64 {
	z.mu.Lock()
	defer z.mu.Unlock()

	z.zoom += zoomSmoothing * (z.target - z.zoom)
	z.target += zoomTargetDecay * (1 - z.target)

	return z.zoom
}

// Value returns the current zoom factor without advancing it.
func (z *BeatZoom) Value() float64 {
	z.mu.Lock()
	defer z.mu.Unlock()

	return z.zoom
}
