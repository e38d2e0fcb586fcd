package input

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/cwbudde/algo-vj/bus"
	"github.com/cwbudde/algo-vj/midi"
)

// Port is one MIDI input port delivering raw wire bytes. Listen starts
// delivery to onBytes on a driver thread and returns a stop func; onErr, if
// non-nil, receives asynchronous listener failures.
type Port interface {
	Name() string
	Listen(onBytes func([]byte), onErr func(error)) (stop func(), err error)
}

// Ports enumerates available MIDI input ports.
type Ports interface {
	List() ([]Port, error)
}

// SystemPorts exposes the machine's MIDI inputs through rtmidi.
type SystemPorts struct {
	drv *rtmididrv.Driver
}

// OpenSystemPorts initializes the system MIDI driver.
func OpenSystemPorts() (*SystemPorts, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("input: midi driver: %w", err)
	}

	return &SystemPorts{drv: drv}, nil
}

// List implements Ports.
func (p *SystemPorts) List() ([]Port, error) {
	ins, err := p.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("input: list midi inputs: %w", err)
	}

	out := make([]Port, 0, len(ins))
	for _, in := range ins {
		out = append(out, &systemPort{in: in})
	}

	return out, nil
}

// Close releases the driver.
func (p *SystemPorts) Close() error {
	return p.drv.Close()
}

type systemPort struct {
	in drivers.In
}

func (p *systemPort) Name() string { return p.in.String() }

func (p *systemPort) Listen(onBytes func([]byte), onErr func(error)) (func(), error) {
	if onErr == nil {
		onErr = func(error) {}
	}

	if err := p.in.Open(); err != nil {
		return nil, fmt.Errorf("input: open %q: %w", p.Name(), err)
	}

	stop, err := gomidi.ListenTo(p.in, func(msg gomidi.Message, _ int32) {
		onBytes([]byte(msg))
	}, gomidi.UseSysEx(), gomidi.UseTimeCode(), gomidi.HandleError(onErr))
	if err != nil {
		_ = p.in.Close()
		return nil, fmt.Errorf("input: listen %q: %w", p.Name(), err)
	}

	return func() {
		stop()
		_ = p.in.Close()
	}, nil
}

// TimingSink consumes the system real-time and song-position traffic of a
// device, timestamped on arrival. Voice messages never reach it.
type TimingSink func(m midi.Message, at time.Time)

// DeviceOption configures a DeviceSource.
type DeviceOption func(*DeviceSource)

// WithDeviceTiming routes clock, start/continue/stop and song-position
// messages to sink instead of dropping them.
func WithDeviceTiming(sink TimingSink) DeviceOption {
	return func(d *DeviceSource) { d.timing = sink }
}

// WithDeviceLogger sets the logger, default slog.Default.
func WithDeviceLogger(log *slog.Logger) DeviceOption {
	return func(d *DeviceSource) {
		if log != nil {
			d.log = log
		}
	}
}

// WithDeviceError sets a hook for asynchronous listener failures.
func WithDeviceError(fn func(error)) DeviceOption {
	return func(d *DeviceSource) { d.onErr = fn }
}

// WithDeviceNow overrides the event timestamp clock.
func WithDeviceNow(now func() time.Time) DeviceOption {
	return func(d *DeviceSource) {
		if now != nil {
			d.now = now
		}
	}
}

// DeviceSource adapts one MIDI port to the bus: channel voice messages
// become NOTE and CONTROL events, SysEx transfers become SYSEX events, and
// real-time traffic is handed to the timing sink. Open starts the port
// listener; the bus calls Close on unregister.
type DeviceSource struct {
	port   Port
	timing TimingSink
	log    *slog.Logger
	now    func() time.Time
	onErr  func(error)

	mu   sync.Mutex
	dec  midi.Decoder
	sink func(bus.Event)
	stop func()
}

// NewDeviceSource wraps port. The source is inert until Open.
func NewDeviceSource(port Port, opts ...DeviceOption) *DeviceSource {
	d := &DeviceSource{
		port: port,
		log:  slog.Default(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Name implements bus.Emitter.
func (d *DeviceSource) Name() string { return d.port.Name() }

// Open starts the port listener. Bytes arriving before a sink is attached
// still feed the timing sink; bus events are dropped until Attach.
func (d *DeviceSource) Open() error {
	stop, err := d.port.Listen(d.feed, d.listenError)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.stop = stop
	d.mu.Unlock()

	return nil
}

// Attach implements bus.Emitter.
func (d *DeviceSource) Attach(sink func(bus.Event)) func() {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		d.sink = nil
		d.mu.Unlock()
	}
}

// Close stops the port listener. Safe to call more than once.
func (d *DeviceSource) Close() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()

	if stop != nil {
		stop()
	}

	return nil
}

func (d *DeviceSource) listenError(err error) {
	d.log.Warn("input: midi listener failed", "port", d.Name(), "err", err)

	if d.onErr != nil {
		d.onErr(err)
	}
}

// feed decodes a raw packet and fans the completed messages out.
func (d *DeviceSource) feed(p []byte) {
	at := d.now()

	d.mu.Lock()
	msgs := d.dec.FeedAll(p)
	sink := d.sink
	d.mu.Unlock()

	for _, m := range msgs {
		d.dispatch(m, at, sink)
	}
}

func (d *DeviceSource) dispatch(m midi.Message, at time.Time, sink func(bus.Event)) {
	if m.IsRealtime() || m.Type == midi.TypeSongPosition {
		if d.timing != nil {
			d.timing(m, at)
		}

		return
	}

	if sink == nil {
		return
	}

	meta := bus.Meta{From: d.Name(), At: at}

	switch m.Type {
	case midi.TypeNoteOn, midi.TypeNoteOff:
		key, vel := m.Note()
		sink(bus.Note{Meta: meta, Note: key, Velocity: vel, On: m.NoteOn()})
	case midi.TypeControlChange:
		id, val := m.Controller()
		sink(bus.Control{Meta: meta, ID: id, Value: float64(val) / 127})
	case midi.TypeSysEx:
		sink(bus.SysEx{Meta: meta, Bytes: m.SysEx})
	default:
		d.log.Debug("input: midi message dropped", "port", d.Name(), "type", m.Type.String())
	}
}
