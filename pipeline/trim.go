package pipeline

import (
	"fmt"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

// Trim is the input trim stage: one drive control, unity at 0.7, mapped
// linearly in dB so the response is monotonic across the whole travel.
type Trim struct {
	drive float64
	gain  float64
}

// NewTrim returns a trim at the neutral drive position.
func NewTrim() *Trim {
	return &Trim{drive: trimNeutral, gain: 1}
}

// Configure implements Effect. The initial position may be supplied as
// "drive".
func (t *Trim) Configure(_ Format, params Params) error {
	return t.SetParam("drive", params.Get("drive", trimNeutral))
}

// SetParam implements Effect.
func (t *Trim) SetParam(param string, value float64) error {
	if param != "drive" {
		return fmt.Errorf("pipeline: trim: %w: %s", ErrUnknownParam, param)
	}

	t.drive = core.Clamp(value, 0, 1)
	t.gain = core.DBToLinear(TrimGainDB(t.drive))

	return nil
}

// Process implements Effect.
func (t *Trim) Process(block []float64) {
	for i := range block {
		block[i] *= t.gain
	}
}

// Drive returns the current drive position.
func (t *Trim) Drive() float64 { return t.drive }
