package render

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownKind reports a renderer name outside the known set.
var ErrUnknownKind = errors.New("unknown renderer")

// Kind identifies a surface owner.
type Kind uint8

const (
	KindShader Kind = iota
	KindScene3D
	KindVideoLocal
	KindVideoStream
	KindInlay
)

// String returns the wire name of the owner kind.
func (k Kind) String() string {
	switch k {
	case KindShader:
		return "shader"
	case KindScene3D:
		return "scene3d"
	case KindVideoLocal:
		return "videoLocal"
	case KindVideoStream:
		return "videoStream"
	case KindInlay:
		return "inlay"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps a wire name onto an owner kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "shader":
		return KindShader, nil
	case "scene3d":
		return KindScene3D, nil
	case "videoLocal":
		return KindVideoLocal, nil
	case "videoStream":
		return KindVideoStream, nil
	case "inlay":
		return KindInlay, nil
	default:
		return 0, fmt.Errorf("render: %w: %q", ErrUnknownKind, s)
	}
}

// KindNames returns the wire names of all owner kinds in switch order.
func KindNames() []string {
	return []string{"shader", "scene3d", "videoLocal", "videoStream", "inlay"}
}

// Owner drives the surface while selected by the multiplexer. Start acquires
// whatever the owner needs (device, loader, program); the context is
// cancelled when the owner is dismissed, which also aborts loads still in
// flight. Frame draws exactly one frame. Stop releases every acquired
// resource; after Stop returns the owner must not touch the surface.
type Owner interface {
	Kind() Kind
	Start(ctx context.Context, s *Surface) error
	Frame(now time.Time)
	Stop()
}

// Reactive is implemented by owners that honor the audio-reactive
// decoration. The multiplexer pushes the current filter and beat zoom once
// per frame before Frame.
type Reactive interface {
	React(f Filter, zoom float64)
}
