package pipeline

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

// Gain is a plain output level stage. Its "level" parameter maps [0,1]
// linearly onto -24..+24 dB with unity at the midpoint.
type Gain struct {
	gain float64
}

const gainRangeDB = 24.0

// NewGain returns a unity gain stage.
func NewGain() *Gain {
	return &Gain{gain: 1}
}

// Configure implements Effect.
func (g *Gain) Configure(_ Format, params Params) error {
	return g.SetParam("level", params.Get("level", 0.5))
}

// SetParam implements Effect.
func (g *Gain) SetParam(param string, value float64) error {
	if param != "level" {
		return fmt.Errorf("pipeline: gain: %w: %s", ErrUnknownParam, param)
	}

	level := core.Clamp(value, 0, 1)
	g.gain = core.DBToLinear((level - 0.5) * 2 * gainRangeDB)

	return nil
}

// Process implements Effect.
func (g *Gain) Process(block []float64) {
	for i := range block {
		block[i] *= g.gain
	}
}

// SoftClip is a saturating limiter stage. Its "drive" parameter maps [0,1]
// onto a tanh pre-gain from 1 to 10; output is renormalized so a full-scale
// input still peaks near full scale.
type SoftClip struct {
	pre  float64
	norm float64
}

// NewSoftClip returns a gentle clipper at minimum drive.
func NewSoftClip() *SoftClip {
	sc := &SoftClip{}
	_ = sc.SetParam("drive", 0)

	return sc
}

// Configure implements Effect.
func (s *SoftClip) Configure(_ Format, params Params) error {
	return s.SetParam("drive", params.Get("drive", 0))
}

// SetParam implements Effect.
func (s *SoftClip) SetParam(param string, value float64) error {
	if param != "drive" {
		return fmt.Errorf("pipeline: softclip: %w: %s", ErrUnknownParam, param)
	}

	s.pre = 1 + core.Clamp(value, 0, 1)*9
	s.norm = 1 / math.Tanh(s.pre)

	return nil
}

// Process implements Effect.
func (s *SoftClip) Process(block []float64) {
	for i := range block {
		block[i] = math.Tanh(block[i]*s.pre) * s.norm
	}
}
