package input

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/scgolang/osc"

	"github.com/cwbudde/algo-vj/bus"
)

// OSC address space of the engine.
const (
	oscAddrBeat    = "/vj/beat"    // f: intensity 0..1
	oscAddrTempo   = "/vj/tempo"   // f: BPM
	oscAddrControl = "/vj/control" // i f: controller id, value 0..1
	oscAddrPreset  = "/vj/preset"  // s: preset id
)

// OSCOption configures an OSCSource.
type OSCOption func(*OSCSource)

// WithOSCName sets the bus source name, default "osc".
func WithOSCName(name string) OSCOption {
	return func(o *OSCSource) {
		if name != "" {
			o.name = name
		}
	}
}

// WithOSCLogger sets the logger, default slog.Default.
func WithOSCLogger(log *slog.Logger) OSCOption {
	return func(o *OSCSource) {
		if log != nil {
			o.log = log
		}
	}
}

// WithOSCPreset routes /vj/preset requests to fn.
func WithOSCPreset(fn func(id string)) OSCOption {
	return func(o *OSCSource) { o.onPreset = fn }
}

// WithOSCNow overrides the event timestamp clock.
func WithOSCNow(now func() time.Time) OSCOption {
	return func(o *OSCSource) {
		if now != nil {
			o.now = now
		}
	}
}

// OSCSource is a UDP OSC server publishing /vj traffic as bus events. A
// tempo message keeps the prevailing run state: continue while playing,
// stop (tempo-only) otherwise.
type OSCSource struct {
	name      string
	log       *slog.Logger
	now       func() time.Time
	transport *bus.TransportState
	onPreset  func(string)

	conn   *osc.UDPConn
	serve  sync.Once
	closed atomic.Bool

	mu   sync.Mutex
	sink func(bus.Event)
}

// NewOSCSource binds a UDP listener on bind (host:port). The server starts
// dispatching when the source is attached to the bus. transport may be nil;
// tempo messages then never carry a continue.
func NewOSCSource(bind string, transport *bus.TransportState, opts ...OSCOption) (*OSCSource, error) {
	laddr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("input: osc address %q: %w", bind, err)
	}

	conn, err := osc.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("input: osc listen %q: %w", bind, err)
	}

	o := &OSCSource{
		name:      "osc",
		log:       slog.Default(),
		now:       time.Now,
		transport: transport,
		conn:      conn,
	}
	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// LocalAddr returns the bound UDP address.
func (o *OSCSource) LocalAddr() net.Addr { return o.conn.LocalAddr() }

// Name implements bus.Emitter.
func (o *OSCSource) Name() string { return o.name }

// Attach implements bus.Emitter. The first attach starts the serve loop.
func (o *OSCSource) Attach(sink func(bus.Event)) func() {
	o.mu.Lock()
	o.sink = sink
	o.mu.Unlock()

	o.serve.Do(func() {
		go o.run()
	})

	return func() {
		o.mu.Lock()
		o.sink = nil
		o.mu.Unlock()
	}
}

// Close shuts the listener down. Safe to call more than once.
func (o *OSCSource) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}

	return o.conn.Close()
}

func (o *OSCSource) run() {
	err := o.conn.Serve(1, osc.PatternMatching{
		oscAddrBeat:    osc.Method(o.handleBeat),
		oscAddrTempo:   osc.Method(o.handleTempo),
		oscAddrControl: osc.Method(o.handleControl),
		oscAddrPreset:  osc.Method(o.handlePreset),
	})
	if err == nil || o.closed.Load() || errors.Is(err, net.ErrClosed) {
		o.log.Debug("input: osc server stopped")
		return
	}

	o.log.Warn("input: osc server failed", "err", err)
}

func (o *OSCSource) handleBeat(m osc.Message) error {
	intensity, err := oscFloat(m, 0)
	if err != nil {
		o.log.Debug("input: osc beat dropped", "err", err)
		return nil
	}

	o.emit(bus.Beat{Meta: o.meta(), Intensity: core.Clamp(intensity, 0, 1)})

	return nil
}

func (o *OSCSource) handleTempo(m osc.Message) error {
	bpm, err := oscFloat(m, 0)
	if err != nil || bpm <= 0 {
		o.log.Debug("input: osc tempo dropped", "err", err)
		return nil
	}

	state := bus.PlayStop
	if o.transport != nil && o.transport.Snapshot(o.now()).Playing {
		state = bus.PlayContinue
	}

	o.emit(bus.Transport{Meta: o.meta(), State: state, BPM: core.Clamp(bpm, 0, bus.MaxBPM)})

	return nil
}

func (o *OSCSource) handleControl(m osc.Message) error {
	id, err := oscInt(m, 0)
	if err != nil {
		o.log.Debug("input: osc control dropped", "err", err)
		return nil
	}

	value, err := oscFloat(m, 1)
	if err != nil {
		o.log.Debug("input: osc control dropped", "err", err)
		return nil
	}

	o.emit(bus.Control{Meta: o.meta(), ID: uint8(id) & 0x7F, Value: core.Clamp(value, 0, 1)})

	return nil
}

func (o *OSCSource) handlePreset(m osc.Message) error {
	if o.onPreset == nil || len(m.Arguments) == 0 {
		return nil
	}

	id, err := m.Arguments[0].ReadString()
	if err != nil {
		o.log.Debug("input: osc preset dropped", "err", err)
		return nil
	}

	o.onPreset(id)

	return nil
}

func (o *OSCSource) emit(ev bus.Event) {
	o.mu.Lock()
	sink := o.sink
	o.mu.Unlock()

	if sink != nil {
		sink(ev)
	}
}

func (o *OSCSource) meta() bus.Meta {
	return bus.Meta{From: o.name, At: o.now()}
}

// oscFloat reads argument i as a float, accepting ints from senders that do
// not tag floats.
func oscFloat(m osc.Message, i int) (float64, error) {
	if i >= len(m.Arguments) {
		return 0, fmt.Errorf("input: osc %s: missing argument %d", m.Address, i)
	}

	if f, err := m.Arguments[i].ReadFloat32(); err == nil {
		return float64(f), nil
	}

	n, err := m.Arguments[i].ReadInt32()
	if err != nil {
		return 0, fmt.Errorf("input: osc %s: argument %d: %w", m.Address, i, err)
	}

	return float64(n), nil
}

// oscInt reads argument i as an int, accepting floats.
func oscInt(m osc.Message, i int) (int, error) {
	if i >= len(m.Arguments) {
		return 0, fmt.Errorf("input: osc %s: missing argument %d", m.Address, i)
	}

	if n, err := m.Arguments[i].ReadInt32(); err == nil {
		return int(n), nil
	}

	f, err := m.Arguments[i].ReadFloat32()
	if err != nil {
		return 0, fmt.Errorf("input: osc %s: argument %d: %w", m.Address, i, err)
	}

	return int(f), nil
}
