// Package preset hosts the visual preset runtime: it owns the mounted
// preset instance, swaps instances atomically, and feeds them normalized
// bus events plus per-frame timing while they draw into the shared surface.
package preset

import (
	"log/slog"
	"time"

	"github.com/cwbudde/algo-vj/bus"
	"github.com/cwbudde/algo-vj/render"
)

// Context carries what an instance may use while mounted. The surface
// belongs to the instance from Initialize until Dispose returns.
type Context struct {
	Surface   *render.Surface
	Transport *bus.TransportState
	Log       *slog.Logger
}

// Instance is one visual program. Initialize allocates its surface
// resources, Update draws one frame at display cadence, the event callbacks
// react to normalized bus traffic, and Dispose releases everything
// Initialize allocated. The runtime guarantees exactly one Initialize and
// exactly one Dispose per instance, and that no callback runs after Dispose.
type Instance interface {
	Initialize(ctx Context) error
	Update(dt time.Duration)
	OnBeat(intensity float64)
	OnNote(note, velocity uint8, on bool)
	OnControl(id uint8, value float64)
	OnFrequency(bands bus.Bands, rms float64)
	Dispose()
}

// Factory builds a fresh unmounted instance.
type Factory func() Instance
