package render

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseKindRoundTrip(t *testing.T) {
	t.Parallel()

	for _, name := range KindNames() {
		kind, err := ParseKind(name)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", name, err)
		}

		if got := kind.String(); got != name {
			t.Fatalf("kind %q round trips to %q", name, got)
		}
	}

	if _, err := ParseKind("hologram"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("error = %v, want %v", err, ErrUnknownKind)
	}
}

func TestShaderLifecycle(t *testing.T) {
	t.Parallel()

	s := NewSurface(32, 16)
	o := NewShader()

	if err := o.Start(context.Background(), s); err != nil {
		t.Fatalf("start: %v", err)
	}

	if live := s.LiveResources(); live != 1 {
		t.Fatalf("live resources = %d, want 1", live)
	}

	o.React(Filter{HueRotateDeg: 45, Saturate: 1.2, Brightness: 1.1}, 1.05)

	t0 := time.Unix(3000, 0)
	o.Frame(t0)
	o.Frame(t0.Add(16 * time.Millisecond))

	for _, x := range []int{0, 15, 31} {
		if got := s.At(x, 8); got.A != 255 {
			t.Fatalf("pixel at x=%d not drawn: %v", x, got)
		}
	}

	o.Stop()

	if live := s.LiveResources(); live != 0 {
		t.Fatalf("live resources after stop = %d, want 0", live)
	}
}

func TestSceneOwnerForwardsTicksWhileActive(t *testing.T) {
	t.Parallel()

	var ticks int

	o := NewScene3D(func(time.Time) { ticks++ })

	// Not started: frames are dropped.
	o.Frame(time.Now())

	if ticks != 0 {
		t.Fatalf("ticks before start = %d, want 0", ticks)
	}

	if err := o.Start(context.Background(), NewSurface(4, 4)); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 3; i++ {
		o.Frame(time.Now())
	}

	if ticks != 3 {
		t.Fatalf("ticks = %d, want 3", ticks)
	}

	o.Stop()
	o.Frame(time.Now())

	if ticks != 3 {
		t.Fatalf("ticks after stop = %d, want 3", ticks)
	}
}

func TestInlayLifecycle(t *testing.T) {
	t.Parallel()

	s := NewSurface(16, 16)
	o := NewInlay("https://example.com/overlay")

	o.SetScale(-1) // resets to identity

	if err := o.Start(context.Background(), s); err != nil {
		t.Fatalf("start: %v", err)
	}

	if live := s.LiveResources(); live != 1 {
		t.Fatalf("live resources = %d, want 1", live)
	}

	o.Frame(time.Now())

	if got := s.At(8, 8); got.A != 255 {
		t.Fatalf("panel center = %v, want drawn", got)
	}

	if got := s.At(0, 0); got.A != 0 {
		t.Fatalf("panel margin = %v, want untouched", got)
	}

	o.Stop()

	if live := s.LiveResources(); live != 0 {
		t.Fatalf("live resources after stop = %d, want 0", live)
	}
}
