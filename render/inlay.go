package render

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// InlayOwner renders the document inlay: a framed panel standing in for an
// embedded page, decorated with the configured transform and the
// audio-reactive filter. Document layout itself stays outside the engine.
type InlayOwner struct {
	url string

	mu       sync.Mutex
	surface  *Surface
	document *Resource
	scale    float64
	filter   Filter
	zoom     float64
}

// NewInlay creates an inlay owner for the given document URL.
func NewInlay(url string) *InlayOwner {
	return &InlayOwner{
		url:    url,
		scale:  1,
		filter: NeutralFilter(),
		zoom:   1,
	}
}

// Kind implements Owner.
func (o *InlayOwner) Kind() Kind { return KindInlay }

// URL returns the document URL.
func (o *InlayOwner) URL() string { return o.url }

// SetScale adjusts the inlay transform. Non-positive values reset to 1.
func (o *InlayOwner) SetScale(scale float64) {
	if scale <= 0 {
		scale = 1
	}

	o.mu.Lock()
	o.scale = scale
	o.mu.Unlock()
}

// Start implements Owner.
func (o *InlayOwner) Start(_ context.Context, s *Surface) error {
	o.mu.Lock()
	o.surface = s
	o.document = s.Allocate("document")
	o.mu.Unlock()

	return nil
}

// React implements Reactive.
func (o *InlayOwner) React(f Filter, zoom float64) {
	o.mu.Lock()
	o.filter = f
	o.zoom = zoom
	o.mu.Unlock()
}

// Frame implements Owner.
func (o *InlayOwner) Frame(time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.surface == nil {
		return
	}

	w, h := o.surface.Size()
	o.surface.SetFilter(o.filter)

	panel := Rect{X: w / 8, Y: h / 8, W: w * 3 / 4, H: h * 3 / 4}.Scaled(o.scale * o.zoom)

	hash := fnv.New32a()
	_, _ = hash.Write([]byte(o.url))
	hue := float64(hash.Sum32() % 360)

	o.surface.FillRect(panel, HSV(hue, 0.15, 0.95))

	header := panel
	header.H = panel.H / 8

	o.surface.FillRect(header, HSV(hue, 0.6, 0.6))
}

// Stop implements Owner.
func (o *InlayOwner) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.document.Release()
	o.document = nil
	o.surface = nil
}
