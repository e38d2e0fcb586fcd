package input

import (
	"math"
	"sync"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/spectrum"
	"github.com/cwbudde/algo-dsp/dsp/window"
	"github.com/cwbudde/algo-vecmath"
	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/cwbudde/algo-vj/bus"
)

const (
	defaultFFTSize = 2048
	// Band edges match the EQ corner frequencies.
	bassEdgeHz = 250.0
	midEdgeHz  = 4000.0
	// normFloorDB maps the normalization range: band energy at or below
	// this level reads 0, full scale reads 1.
	normFloorDB = -60.0

	onsetRatio    = 1.5
	onsetMinRMS   = 0.02
	onsetCooldown = 100 * time.Millisecond
)

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithAnalyzerName sets the bus source name, default "analyzer".
func WithAnalyzerName(name string) AnalyzerOption {
	return func(a *Analyzer) {
		if name != "" {
			a.name = name
		}
	}
}

// WithFFTSize sets the analysis frame length. Sizes outside the supported
// set fall back to the default.
func WithFFTSize(n int) AnalyzerOption {
	return func(a *Analyzer) {
		switch n {
		case 256, 512, 1024, 2048, 4096, 8192:
			a.fftSize = n
		default:
			a.fftSize = defaultFFTSize
		}
	}
}

// WithSmoothing sets the exponential smoothing factor applied to band
// energies, clamped to [0, 0.95].
func WithSmoothing(s float64) AnalyzerOption {
	return func(a *Analyzer) {
		a.smoothing = core.Clamp(s, 0, 0.95)
	}
}

// WithOnset installs a callback fired on detected audio onsets with the
// onset intensity in [0,1].
func WithOnset(fn func(intensity float64)) AnalyzerOption {
	return func(a *Analyzer) {
		a.onset = fn
	}
}

// WithAnalyzerNow injects the timestamp source.
func WithAnalyzerNow(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// Analyzer folds captured PCM into normalized three-band FREQUENCY frames
// and onset hints. It is registered on the bus as a persistent source; the
// capture path pushes blocks, and once per hop a windowed FFT produces one
// frame. Band energies are mean bin powers mapped from dBFS onto [0,1].
type Analyzer struct {
	name      string
	rate      float64
	fftSize   int
	hop       int
	smoothing float64
	onset     func(float64)
	now       func() time.Time

	plan    *algofft.Plan[complex128]
	win     []float64
	winGain float64

	mu       sync.Mutex
	sink     func(bus.Event)
	ring     []float64
	write    int
	filled   int
	toHop    int
	frame    []complex128
	bins     []complex128
	scratch  []float64
	bands    bus.Bands
	haveBand bool
	avgRMS   float64
	lastHit  time.Time
}

// NewAnalyzer creates an analyzer for mono PCM at the given sample rate.
func NewAnalyzer(sampleRate float64, opts ...AnalyzerOption) (*Analyzer, error) {
	a := &Analyzer{
		name:      "analyzer",
		rate:      sampleRate,
		fftSize:   defaultFFTSize,
		smoothing: 0.6,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.hop = a.fftSize / 2

	a.win = window.Generate(window.TypeHann, a.fftSize, window.WithPeriodic())
	a.winGain = vecmath.Sum(a.win) / float64(a.fftSize)

	plan, err := algofft.NewPlan64(a.fftSize)
	if err != nil {
		return nil, err
	}

	a.plan = plan
	a.ring = make([]float64, a.fftSize)
	a.frame = make([]complex128, a.fftSize)
	a.bins = make([]complex128, a.fftSize)
	a.scratch = make([]float64, a.fftSize)

	return a, nil
}

// Name implements bus.Emitter.
func (a *Analyzer) Name() string { return a.name }

// Attach implements bus.Emitter.
func (a *Analyzer) Attach(sink func(bus.Event)) (detach func()) {
	a.mu.Lock()
	a.sink = sink
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		a.sink = nil
		a.mu.Unlock()
	}
}

// Bands returns the most recent smoothed band energies.
func (a *Analyzer) Bands() bus.Bands {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.bands
}

// Push folds one block of mono samples into the analysis ring. Each
// completed hop emits one FREQUENCY frame on the attached sink.
func (a *Analyzer) Push(samples []float64) {
	a.mu.Lock()

	var pending []bus.Frequency

	for _, s := range samples {
		a.ring[a.write] = s

		a.write++
		if a.write >= a.fftSize {
			a.write = 0
		}

		if a.filled < a.fftSize {
			a.filled++
		}

		a.toHop++
		if a.filled < a.fftSize || a.toHop < a.hop {
			continue
		}

		a.toHop = 0

		if ev, ok := a.analyzeLocked(); ok {
			pending = append(pending, ev)
		}
	}

	sink := a.sink
	a.mu.Unlock()

	if sink == nil {
		return
	}

	for _, ev := range pending {
		sink(ev)
	}
}

// analyzeLocked runs one windowed FFT over the ring and derives the frame.
func (a *Analyzer) analyzeLocked() (bus.Frequency, bool) {
	read := a.write
	for i := 0; i < a.fftSize; i++ {
		s := a.ring[read]
		a.scratch[i] = s
		a.frame[i] = complex(s*a.win[i], 0)

		read++
		if read >= a.fftSize {
			read = 0
		}
	}

	if err := a.plan.Forward(a.bins, a.frame); err != nil {
		return bus.Frequency{}, false
	}

	pow := spectrum.Power(a.bins[:a.fftSize/2+1])

	// Normalize to full scale: interior bins carry half the two-sided
	// energy, hence the factor 4 on power.
	norm := float64(a.fftSize) * math.Max(a.winGain, 1e-12)
	scale := 4 / (norm * norm)

	binHz := a.rate / float64(a.fftSize)
	bassHi := int(bassEdgeHz / binHz)
	midHi := int(midEdgeHz / binHz)

	fresh := bus.Bands{
		Bass: bandLevel(pow, 1, bassHi, scale),
		Mid:  bandLevel(pow, bassHi, midHi, scale),
		High: bandLevel(pow, midHi, len(pow)-1, scale),
	}

	if a.haveBand {
		a.bands.Bass = a.smoothing*a.bands.Bass + (1-a.smoothing)*fresh.Bass
		a.bands.Mid = a.smoothing*a.bands.Mid + (1-a.smoothing)*fresh.Mid
		a.bands.High = a.smoothing*a.bands.High + (1-a.smoothing)*fresh.High
	} else {
		a.bands = fresh
		a.haveBand = true
	}

	rms := math.Sqrt(vecmath.DotProduct(a.scratch, a.scratch) / float64(a.fftSize))
	at := a.now()

	a.detectOnsetLocked(rms, at)

	return bus.Frequency{
		Meta:  bus.Meta{From: a.name, At: at},
		Bands: a.bands,
		RMS:   core.Clamp(rms, 0, 1),
	}, true
}

// detectOnsetLocked fires the onset hook when the frame energy jumps well
// above its running average.
func (a *Analyzer) detectOnsetLocked(rms float64, at time.Time) {
	avg := a.avgRMS
	a.avgRMS = 0.95*a.avgRMS + 0.05*rms

	if a.onset == nil || rms < onsetMinRMS {
		return
	}

	if avg <= 0 || rms/avg < onsetRatio {
		return
	}

	if !a.lastHit.IsZero() && at.Sub(a.lastHit) < onsetCooldown {
		return
	}

	a.lastHit = at
	a.onset(core.Clamp((rms/avg-1)/2, 0, 1))
}

// bandLevel maps the mean bin power of [lo, hi) onto [0,1] via dBFS.
func bandLevel(pow []float64, lo, hi int, scale float64) float64 {
	if lo < 1 {
		lo = 1
	}

	if hi > len(pow) {
		hi = len(pow)
	}

	if hi <= lo {
		return 0
	}

	mean := vecmath.Sum(pow[lo:hi]) * scale / float64(hi-lo)
	db := 10 * math.Log10(math.Max(mean, 1e-12))

	return core.Clamp((db-normFloorDB)/-normFloorDB, 0, 1)
}
