package pipeline

import (
	"errors"
	"math"
)

// Format describes the stream an effect processes.
type Format struct {
	SampleRate float64
	BlockSize  int
}

// Params holds one chain node's configuration values from the module's
// chain description.
type Params map[string]float64

// Get returns the named value, or def when the key is absent or the stored
// value is not finite.
func (p Params) Get(key string, def float64) float64 {
	v, ok := p[key]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}

	return v
}

// ErrUnknownParam is returned by SetParam for parameters an effect does not
// expose.
var ErrUnknownParam = errors.New("unknown parameter")

// Effect is a single node in the linear chain. Configure is called once
// when the chain is built; SetParam applies live normalized values and
// Process runs the block in place. Both are only ever called from the
// processor goroutine, between blocks, so implementations need no locking.
type Effect interface {
	Configure(format Format, params Params) error
	SetParam(param string, value float64) error
	Process(block []float64)
}
