package preset

import (
	"errors"
	"math"
	"time"

	"github.com/cwbudde/algo-vj/bus"
	"github.com/cwbudde/algo-vj/render"
)

// tunnel draws nested frames receding toward the center. The recession
// phase advances with time, beats kick the speed, notes recolor the walls,
// and controller 1 scales the base speed.
type tunnel struct {
	ctx   Context
	geom  *render.Resource
	phase float64
	kick  float64
	hue   float64
	speed float64
	glow  float64
}

func newTunnel() Instance {
	return &tunnel{speed: 1}
}

func (p *tunnel) Initialize(ctx Context) error {
	if ctx.Surface == nil {
		return errors.New("no surface")
	}

	p.ctx = ctx
	p.geom = ctx.Surface.Allocate("tunnelGeometry")

	return nil
}

func (p *tunnel) Update(dt time.Duration) {
	sec := dt.Seconds()
	p.phase += sec * (0.8 + p.kick) * p.speed
	p.kick *= math.Exp(-4 * sec)

	s := p.ctx.Surface
	w, h := s.Size()

	const rings = 12

	frac := p.phase - math.Floor(p.phase)

	for i := rings; i >= 1; i-- {
		t := (float64(i) - frac) / rings
		if t <= 0 {
			continue
		}

		rw := int(float64(w) * t)
		rh := int(float64(h) * t)
		val := (1-t)*0.85 + 0.15 + p.glow*0.3

		c := render.HSV(p.hue+t*120, 0.7, val)
		s.FillRect(render.Rect{X: (w - rw) / 2, Y: (h - rh) / 2, W: rw, H: rh}, c)
	}
}

func (p *tunnel) OnBeat(intensity float64) {
	p.kick += intensity
	if p.kick > 2 {
		p.kick = 2
	}

	p.hue += 15
}

func (p *tunnel) OnNote(note, _ uint8, on bool) {
	if on {
		p.hue = float64(note) * 3
	}
}

func (p *tunnel) OnControl(id uint8, value float64) {
	if id == 1 {
		p.speed = 0.25 + value*1.75
	}
}

func (p *tunnel) OnFrequency(_ bus.Bands, rms float64) {
	p.glow = rms
}

func (p *tunnel) Dispose() {
	p.geom.Release()
	p.geom = nil
}

// bars draws one column per analyzer band plus an RMS strip along the
// bottom edge; beats flash the backdrop.
type bars struct {
	ctx     Context
	geom    *render.Resource
	target  [3]float64
	display [3]float64
	rms     float64
	flash   float64
	gain    float64
}

func newBars() Instance {
	return &bars{gain: 1}
}

func (p *bars) Initialize(ctx Context) error {
	if ctx.Surface == nil {
		return errors.New("no surface")
	}

	p.ctx = ctx
	p.geom = ctx.Surface.Allocate("barGeometry")

	return nil
}

func (p *bars) Update(dt time.Duration) {
	sec := dt.Seconds()

	step := sec * 12
	if step > 1 {
		step = 1
	}

	for i := range p.display {
		p.display[i] += (p.target[i]*p.gain - p.display[i]) * step
	}

	p.flash *= math.Exp(-6 * sec)

	s := p.ctx.Surface
	w, h := s.Size()

	s.Fill(render.HSV(0, 0, p.flash*0.3))

	colW := w / 4

	for i, level := range p.display {
		if level > 1 {
			level = 1
		}

		barH := int(level * float64(h) * 0.9)
		x := colW/2 + i*colW + colW/8

		c := render.HSV(float64(i)*120, 0.75, 0.9)
		s.FillRect(render.Rect{X: x, Y: h - barH, W: colW * 3 / 4, H: barH}, c)
	}

	strip := int(p.rms * float64(w))
	s.FillRect(render.Rect{Y: h - h/32 - 1, W: strip, H: h/32 + 1}, render.HSV(45, 0.2, 1))
}

func (p *bars) OnBeat(intensity float64) {
	f := 0.3 + 0.7*intensity
	if f > p.flash {
		p.flash = f
	}
}

func (p *bars) OnNote(_, velocity uint8, on bool) {
	if !on {
		return
	}

	f := float64(velocity) / 127 * 0.5
	if f > p.flash {
		p.flash = f
	}
}

func (p *bars) OnControl(id uint8, value float64) {
	if id == 1 {
		p.gain = 0.5 + 1.5*value
	}
}

func (p *bars) OnFrequency(bands bus.Bands, rms float64) {
	p.target = [3]float64{bands.Bass, bands.Mid, bands.High}
	p.rms = rms
}

func (p *bars) Dispose() {
	p.geom.Release()
	p.geom = nil
}
