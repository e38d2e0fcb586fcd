package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

// HandshakeTimeout bounds the wait for the module handshake to complete.
const HandshakeTimeout = 10 * time.Second

// eqNodeName is the chain node the gain controls address.
const eqNodeName = "eq"

var (
	// ErrHandshakeTimeout reports that the processor never confirmed the
	// module within the handshake deadline.
	ErrHandshakeTimeout = errors.New("pipeline: module handshake timed out")

	// ErrModuleLoad reports that the processor rejected the module payload.
	ErrModuleLoad = errors.New("pipeline: module failed to load")
)

var errAlreadyStarted = errors.New("pipeline: host already started")

// State tracks the module handshake from the host's point of view.
type State uint8

const (
	StateIdle State = iota
	StateFetching
	StateAwaitingReady
	StateReady
	StateFailed
)

// String returns the state name used in status reports.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateAwaitingReady:
		return "awaitingReady"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Host owns the control half of the pipeline. It runs the module handshake,
// mirrors knob positions for UI echo, and forwards parameter and toggle
// frames to the processor. Parameter changes issued before the module is
// ready are buffered and flushed in order once it is.
type Host struct {
	log      *slog.Logger
	format   Format
	registry *Registry
	timeout  time.Duration

	in  *Ring
	out *Ring

	proc *Processor

	mu      sync.Mutex
	state   State
	started bool
	closed  bool
	pending [][]byte
	knobs   map[string]float64
}

// Option configures a Host.
type Option func(*Host)

// WithLogger routes host and processor diagnostics to log.
func WithLogger(log *slog.Logger) Option {
	return func(h *Host) {
		if log != nil {
			h.log = log
		}
	}
}

// WithRegistry swaps the effect registry used to build chains.
func WithRegistry(registry *Registry) Option {
	return func(h *Host) {
		if registry != nil {
			h.registry = registry
		}
	}
}

// WithHandshakeTimeout overrides the module handshake deadline.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHost creates a stopped pipeline for the given stream format.
// Out-of-range format fields fall back to 44.1 kHz and 512-sample blocks.
func NewHost(format Format, opts ...Option) *Host {
	if format.SampleRate <= 0 {
		format.SampleRate = 44100
	}

	if format.BlockSize <= 0 {
		format.BlockSize = 512
	}

	h := &Host{
		log:      slog.Default(),
		format:   format,
		registry: DefaultRegistry(),
		timeout:  HandshakeTimeout,
		in:       NewRing(format.BlockSize * ringBlocks),
		out:      NewRing(format.BlockSize * ringBlocks),
		knobs: map[string]float64{
			BandLow:  knobFlat,
			BandMid:  knobFlat,
			BandHigh: knobFlat,
		},
	}

	for _, opt := range opts {
		opt(h)
	}

	h.proc = newProcessor(h.log, h.format, h.registry, h.in, h.out)

	return h
}

// Start spawns the processor and drives the module handshake to completion.
// It blocks until the processor reports ready, the module is rejected, the
// deadline passes, or ctx is cancelled. On failure the pipeline stays in
// StateFailed and later control calls become logged no-ops.
func (h *Host) Start(ctx context.Context, mod ModuleData) error {
	h.mu.Lock()
	if h.state != StateIdle {
		h.mu.Unlock()
		return errAlreadyStarted
	}

	h.state = StateFetching
	h.started = true
	h.mu.Unlock()

	go h.proc.run()

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.abort()
			return fmt.Errorf("pipeline: handshake aborted: %w", ctx.Err())
		case <-timer.C:
			h.abort()
			return fmt.Errorf("%w after %s", ErrHandshakeTimeout, h.timeout)
		case frame := <-h.proc.toHost:
			var env Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				continue
			}

			switch env.Type {
			case MsgNeedWasm:
				reply, err := encodeMsg(MsgWasmBytes, mod)
				if err != nil {
					h.abort()
					return err
				}

				h.postModule(reply)
			case MsgReady:
				h.finishReady()
				return nil
			case MsgError:
				h.abort()
				return fmt.Errorf("%w: %s", ErrModuleLoad, env.Error)
			}
		}
	}
}

// SetGain moves one EQ band knob. percent is the UI position in 0..100.
// Before the module is ready the change is buffered; after a failed load it
// is dropped so the mirrored knob keeps its last good position.
func (h *Host) SetGain(band string, percent float64) {
	knob := core.Clamp(percent/100, 0, 1)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateFailed {
		h.log.Warn("pipeline: gain change ignored, module failed", "band", band)
		return
	}

	h.knobs[band] = knob

	frame, err := encodeMsg(MsgSetParam, ParamData{Effect: eqNodeName, Param: band, Value: knob})
	if err != nil {
		return
	}

	h.dispatchLocked(frame)
}

// SetEnabled switches one chain node in or out of the signal path.
func (h *Host) SetEnabled(name string, enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateFailed {
		h.log.Warn("pipeline: toggle ignored, module failed", "effect", name)
		return
	}

	frame, err := encodeMsg(MsgToggle, ToggleData{Name: name, Enabled: enabled})
	if err != nil {
		return
	}

	h.dispatchLocked(frame)
}

// SetParam forwards one raw parameter change to a chain node. Unlike the
// band gains there is no mirrored echo; the value passes through as-is.
func (h *Host) SetParam(effect, param string, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateFailed {
		h.log.Warn("pipeline: param change ignored, module failed", "effect", effect, "param", param)
		return
	}

	frame, err := encodeMsg(MsgSetParam, ParamData{Effect: effect, Param: param, Value: value})
	if err != nil {
		return
	}

	h.dispatchLocked(frame)
}

// KnobEcho returns the mirrored knob position for band in percent.
func (h *Host) KnobEcho(band string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.knobs[band] * 100
}

// GainDB returns the gain in decibels the mirrored knob position maps to.
func (h *Host) GainDB(band string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return KnobGainDB(h.knobs[band])
}

// IsKilled reports whether the mirrored knob position has the band killed.
func (h *Host) IsKilled(band string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return Killed(h.knobs[band])
}

// Ready reports whether the module handshake has completed.
func (h *Host) Ready() bool {
	return h.State() == StateReady
}

// State returns the current handshake state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// Input returns the ring samples are pushed into.
func (h *Host) Input() *Ring {
	return h.in
}

// Output returns the ring processed blocks land in.
func (h *Host) Output() *Ring {
	return h.out
}

// Close shuts the port and waits for the processor to exit.
func (h *Host) Close() error {
	h.mu.Lock()
	started := h.started
	h.closePortLocked()
	h.mu.Unlock()

	if started {
		<-h.proc.done
	}

	return nil
}

func (h *Host) abort() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state = StateFailed
	h.closePortLocked()
}

// postModule hands the module payload to the processor unless the port has
// been closed underneath the handshake.
func (h *Host) postModule(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.proc.fromHost <- frame
	h.state = StateAwaitingReady
}

// finishReady flips to StateReady and flushes buffered frames before any
// later control call can slip ahead of them.
func (h *Host) finishReady() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state = StateReady

	if h.closed {
		h.pending = nil
		return
	}

	for _, frame := range h.pending {
		h.proc.fromHost <- frame
	}

	h.pending = nil
}

func (h *Host) dispatchLocked(frame []byte) {
	if h.closed {
		return
	}

	if h.state == StateReady {
		select {
		case h.proc.fromHost <- frame:
		default:
			h.log.Warn("pipeline: port saturated, frame dropped")
		}

		return
	}

	h.pending = append(h.pending, frame)
}

func (h *Host) closePortLocked() {
	if h.closed {
		return
	}

	h.closed = true
	close(h.proc.fromHost)
}
