package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDeviceUnavailable reports that the local camera could not be opened.
var ErrDeviceUnavailable = errors.New("device unavailable")

const captureReadyTimeout = 3 * time.Second

// Picture is one decoded video frame in RGBA.
type Picture struct {
	Pix  []byte
	W, H int
}

// Track delivers frames from an opened device or stream. Read returns the
// latest picture; Stop ends the track, after which Ended reports true and
// Read stops delivering.
type Track interface {
	Read(now time.Time) (Picture, bool)
	Stop()
	Ended() bool
}

// Capture opens the local camera. Device enumeration and OS plumbing stay
// behind this contract.
type Capture interface {
	Open(ctx context.Context) (Track, error)
}

// CameraOwner renders the local capture device under a fit mode. Opening is
// bounded: a device that does not produce a track within the ready window
// fails the start.
type CameraOwner struct {
	capture Capture
	fit     Fit
	timeout time.Duration

	mu      sync.Mutex
	surface *Surface
	texture *Resource
	track   Track
	filter  Filter
	zoom    float64
}

// NewCamera creates a camera owner over the given capture backend. A nil
// backend always fails with ErrDeviceUnavailable.
func NewCamera(capture Capture, fit Fit) *CameraOwner {
	return &CameraOwner{
		capture: capture,
		fit:     fit,
		timeout: captureReadyTimeout,
		filter:  NeutralFilter(),
		zoom:    1,
	}
}

// Kind implements Owner.
func (o *CameraOwner) Kind() Kind { return KindVideoLocal }

// Start implements Owner.
func (o *CameraOwner) Start(ctx context.Context, s *Surface) error {
	if o.capture == nil {
		return fmt.Errorf("render: camera: %w", ErrDeviceUnavailable)
	}

	openCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	track, err := o.capture.Open(openCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("render: camera: %w", ErrDeviceUnavailable)
		}

		return fmt.Errorf("render: camera: %w", err)
	}

	o.mu.Lock()
	o.surface = s
	o.texture = s.Allocate("cameraTexture")
	o.track = track
	o.mu.Unlock()

	return nil
}

// React implements Reactive.
func (o *CameraOwner) React(f Filter, zoom float64) {
	o.mu.Lock()
	o.filter = f
	o.zoom = zoom
	o.mu.Unlock()
}

// Frame implements Owner.
func (o *CameraOwner) Frame(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.surface == nil || o.track == nil {
		return
	}

	pic, ok := o.track.Read(now)
	if !ok {
		return
	}

	w, h := o.surface.Size()
	dst := FitRect(o.fit, pic.W, pic.H, w, h).Scaled(o.zoom)

	o.surface.SetFilter(o.filter)
	o.surface.Blit(pic.Pix, pic.W, pic.H, dst)
}

// Stop implements Owner. All capture tracks are ended on release.
func (o *CameraOwner) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.track != nil {
		o.track.Stop()
		o.track = nil
	}

	o.texture.Release()
	o.texture = nil
	o.surface = nil
}
