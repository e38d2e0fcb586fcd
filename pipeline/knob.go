// Package pipeline implements the effects pipeline: a host-side facade that
// speaks a JSON message protocol to a dedicated audio goroutine hosting a
// linear effect chain and an optional wasm DSP kernel.
package pipeline

import "github.com/cwbudde/algo-dsp/dsp/core"

// Knob law constants.
const (
	// KillThresholdDB is the band gain at and below which a band counts
	// as killed.
	KillThresholdDB = -20.0

	knobFloorDB = -40.0
	knobBoostDB = 12.0
	knobFlat    = 0.5

	trimNeutral = 0.7
	trimRangeDB = 24.0
)

// KnobGainDB maps a normalized EQ knob position to band gain in decibels.
// Zero is a hard cut at -40 dB, the midpoint is flat, and full deflection
// boosts by +12 dB. The curve is continuous and monotonic with a breakpoint
// at the flat position.
func KnobGainDB(knob float64) float64 {
	knob = core.Clamp(knob, 0, 1)
	if knob <= knobFlat {
		return (knob/knobFlat)*(-knobFloorDB) + knobFloorDB
	}

	return ((knob - knobFlat) / (1 - knobFlat)) * knobBoostDB
}

// Killed reports whether a knob position fully attenuates its band.
func Killed(knob float64) bool {
	return KnobGainDB(knob) <= KillThresholdDB
}

// TrimGainDB maps the input trim drive control to decibels. The neutral
// position of 0.7 is unity gain; the response is linear in dB on both
// sides of it.
func TrimGainDB(drive float64) float64 {
	return (core.Clamp(drive, 0, 1) - trimNeutral) * trimRangeDB
}
