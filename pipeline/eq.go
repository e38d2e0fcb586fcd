package pipeline

import (
	"fmt"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
	"github.com/cwbudde/algo-dsp/dsp/filter/design/shelving"
)

// EQ band parameter names.
const (
	BandLow  = "low"
	BandMid  = "mid"
	BandHigh = "high"
)

// Fixed band layout of the performance EQ.
const (
	eqLowFreq  = 250.0
	eqMidFreq  = 1000.0
	eqMidQ     = 1.0
	eqHighFreq = 4000.0
)

// EQ is the three-band kill EQ: a low shelf at 250 Hz, a peaking mid at
// 1 kHz, and a high shelf at 4 kHz, each driven by one normalized knob
// through the shared knob law. Rebuilding a band swaps coefficients while
// the section's delay state carries over, so live tweaks stay click-free.
type EQ struct {
	format Format
	knobs  map[string]float64
	low    *biquad.Section
	mid    *biquad.Section
	high   *biquad.Section
}

// NewEQ returns a flat EQ; it is unusable until Configure.
func NewEQ() *EQ {
	return &EQ{
		knobs: map[string]float64{
			BandLow:  knobFlat,
			BandMid:  knobFlat,
			BandHigh: knobFlat,
		},
	}
}

// Configure implements Effect. Initial knob positions may be supplied under
// the band names; missing ones start flat.
func (e *EQ) Configure(format Format, params Params) error {
	e.format = format
	e.low = biquad.NewSection(biquad.Coefficients{B0: 1})
	e.mid = biquad.NewSection(biquad.Coefficients{B0: 1})
	e.high = biquad.NewSection(biquad.Coefficients{B0: 1})

	for _, band := range []string{BandLow, BandMid, BandHigh} {
		if err := e.SetParam(band, params.Get(band, knobFlat)); err != nil {
			return err
		}
	}

	return nil
}

// SetParam implements Effect. The value is the knob position in [0,1].
func (e *EQ) SetParam(param string, value float64) error {
	section, err := e.section(param)
	if err != nil {
		return err
	}

	knob := core.Clamp(value, 0, 1)
	e.knobs[param] = knob

	coeffs, err := e.design(param, KnobGainDB(knob))
	if err != nil {
		return fmt.Errorf("pipeline: eq %s: %w", param, err)
	}

	section.Coefficients = coeffs

	return nil
}

// Process implements Effect.
func (e *EQ) Process(block []float64) {
	e.low.ProcessBlock(block)
	e.mid.ProcessBlock(block)
	e.high.ProcessBlock(block)
}

// GainDB returns the band gain currently applied for the given band name.
func (e *EQ) GainDB(band string) float64 {
	return KnobGainDB(e.knobs[band])
}

func (e *EQ) section(band string) (*biquad.Section, error) {
	switch band {
	case BandLow:
		return e.low, nil
	case BandMid:
		return e.mid, nil
	case BandHigh:
		return e.high, nil
	default:
		return nil, fmt.Errorf("pipeline: eq: %w: %s", ErrUnknownParam, band)
	}
}

func (e *EQ) design(band string, gainDB float64) (biquad.Coefficients, error) {
	switch band {
	case BandLow:
		coeffs, err := shelving.ButterworthLowShelf(e.format.SampleRate, eqLowFreq, gainDB, 1)
		if err != nil {
			return biquad.Coefficients{}, err
		}

		return coeffs[0], nil
	case BandMid:
		coeffs, err := design.PeakCascade(e.format.SampleRate, eqMidFreq, eqMidQ, gainDB, 1)
		if err != nil {
			return biquad.Coefficients{}, err
		}

		return coeffs[0], nil
	default:
		coeffs, err := shelving.ButterworthHighShelf(e.format.SampleRate, eqHighFreq, gainDB, 1)
		if err != nil {
			return biquad.Coefficients{}, err
		}

		return coeffs[0], nil
	}
}
