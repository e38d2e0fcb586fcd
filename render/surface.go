// Package render owns the drawing surface and multiplexes the mutually
// exclusive surface owners: the shader scenes, the preset-driven 3D scene,
// local and remote video, and the HTML inlay. Fit geometry and the
// audio-reactive decoration laws live here too.
package render

import (
	"image/color"
	"sync"
	"sync/atomic"
)

// Rect is an axis-aligned pixel rectangle. Negative origin and overflow are
// legal; drawing clips to the surface.
type Rect struct {
	X, Y, W, H int
}

// Scaled returns the rectangle scaled by f around its center.
func (r Rect) Scaled(f float64) Rect {
	if f == 1 {
		return r
	}

	w := int(float64(r.W) * f)
	h := int(float64(r.H) * f)

	return Rect{
		X: r.X + (r.W-w)/2,
		Y: r.Y + (r.H-h)/2,
		W: w,
		H: h,
	}
}

// Surface is the single exclusive drawing target of the engine: an RGBA
// framebuffer plus the compositor-side decoration state and a registry of
// owner-allocated resources. Exactly one owner draws into it at any instant;
// presets and owners must release every resource they allocate.
type Surface struct {
	w, h int

	mu     sync.Mutex
	pix    []byte
	filter Filter

	frames uint64
	live   int64
}

// NewSurface creates a black surface of the given size. Non-positive
// dimensions fall back to a single pixel.
func NewSurface(w, h int) *Surface {
	if w < 1 {
		w = 1
	}

	if h < 1 {
		h = 1
	}

	return &Surface{
		w:      w,
		h:      h,
		pix:    make([]byte, w*h*4),
		filter: NeutralFilter(),
	}
}

// Size returns the surface dimensions in pixels.
func (s *Surface) Size() (w, h int) { return s.w, s.h }

// Clear blacks out the framebuffer and resets the decoration.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.pix {
		s.pix[i] = 0
	}

	s.filter = NeutralFilter()
}

// Fill floods the whole surface with c.
func (s *Surface) Fill(c color.RGBA) {
	s.FillRect(Rect{W: s.w, H: s.h}, c)
}

// FillRect fills r with c, clipped to the surface.
func (s *Surface) FillRect(r Rect, c color.RGBA) {
	x0, y0, x1, y1 := s.clip(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	for y := y0; y < y1; y++ {
		row := (y*s.w + x0) * 4
		for x := x0; x < x1; x++ {
			s.pix[row] = c.R
			s.pix[row+1] = c.G
			s.pix[row+2] = c.B
			s.pix[row+3] = c.A
			row += 4
		}
	}
}

// Blit stretches an RGBA source picture into dst with nearest-neighbor
// sampling, clipped to the surface. Sources with mismatched buffer sizes are
// ignored.
func (s *Surface) Blit(src []byte, srcW, srcH int, dst Rect) {
	if srcW < 1 || srcH < 1 || len(src) < srcW*srcH*4 || dst.W < 1 || dst.H < 1 {
		return
	}

	x0, y0, x1, y1 := s.clip(dst)

	s.mu.Lock()
	defer s.mu.Unlock()

	for y := y0; y < y1; y++ {
		sy := (y - dst.Y) * srcH / dst.H
		srcRow := sy * srcW * 4
		row := (y*s.w + x0) * 4

		for x := x0; x < x1; x++ {
			sx := (x - dst.X) * srcW / dst.W
			p := srcRow + sx*4

			s.pix[row] = src[p]
			s.pix[row+1] = src[p+1]
			s.pix[row+2] = src[p+2]
			s.pix[row+3] = src[p+3]
			row += 4
		}
	}
}

// At returns the pixel at (x, y), or transparent black outside the surface.
func (s *Surface) At(x, y int) color.RGBA {
	if x < 0 || y < 0 || x >= s.w || y >= s.h {
		return color.RGBA{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := (y*s.w + x) * 4

	return color.RGBA{R: s.pix[p], G: s.pix[p+1], B: s.pix[p+2], A: s.pix[p+3]}
}

// SetFilter installs the compositor decoration applied when the frame is
// presented.
func (s *Surface) SetFilter(f Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

// CurrentFilter returns the installed decoration.
func (s *Surface) CurrentFilter() Filter {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filter
}

// Present completes one frame.
func (s *Surface) Present() {
	atomic.AddUint64(&s.frames, 1)
}

// Frames returns the number of presented frames.
func (s *Surface) Frames() uint64 {
	return atomic.LoadUint64(&s.frames)
}

// clip intersects r with the surface and returns the half-open pixel bounds.
func (s *Surface) clip(r Rect) (x0, y0, x1, y1 int) {
	x0, y0 = r.X, r.Y
	x1, y1 = r.X+r.W, r.Y+r.H

	if x0 < 0 {
		x0 = 0
	}

	if y0 < 0 {
		y0 = 0
	}

	if x1 > s.w {
		x1 = s.w
	}

	if y1 > s.h {
		y1 = s.h
	}

	if x1 < x0 {
		x1 = x0
	}

	if y1 < y0 {
		y1 = y0
	}

	return x0, y0, x1, y1
}

// Resource is one surface-allocated handle (a texture, program, or stream
// consumer). Owners and presets allocate in their setup path and must
// release in their teardown path; Release is idempotent.
type Resource struct {
	surface  *Surface
	kind     string
	released atomic.Bool
}

// Allocate registers a live resource of the given kind.
func (s *Surface) Allocate(kind string) *Resource {
	atomic.AddInt64(&s.live, 1)

	return &Resource{surface: s, kind: kind}
}

// LiveResources returns the count of allocated, unreleased resources.
func (s *Surface) LiveResources() int {
	return int(atomic.LoadInt64(&s.live))
}

// Kind returns the label the resource was allocated under.
func (r *Resource) Kind() string { return r.kind }

// Release frees the resource. Further calls are no-ops.
func (r *Resource) Release() {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return
	}

	atomic.AddInt64(&r.surface.live, -1)
}
