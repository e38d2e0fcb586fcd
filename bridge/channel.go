package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwbudde/algo-vj/bus"
	"github.com/cwbudde/algo-vj/midi"
)

// ErrChannelClosed is returned by sends on a closed channel.
var ErrChannelClosed = errors.New("bridge: channel closed")

// channelConfig carries the options shared by both endpoint kinds.
type channelConfig struct {
	log     *slog.Logger
	name    string
	now     func() time.Time
	timing  func(m midi.Message, at time.Time)
	onClose func(error)
}

// ChannelOption configures a dialed relay channel.
type ChannelOption func(*channelConfig)

// WithChannelLogger sets the logger, default slog.Default.
func WithChannelLogger(log *slog.Logger) ChannelOption {
	return func(c *channelConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// WithChannelName sets the program channel's bus source name, default
// "remote".
func WithChannelName(name string) ChannelOption {
	return func(c *channelConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithChannelTiming routes remote MIDI real-time and song-position traffic
// to sink.
func WithChannelTiming(sink func(m midi.Message, at time.Time)) ChannelOption {
	return func(c *channelConfig) { c.timing = sink }
}

// WithChannelNow overrides the event timestamp clock.
func WithChannelNow(now func() time.Time) ChannelOption {
	return func(c *channelConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithChannelClose installs a hook invoked once when the connection ends,
// with the read error that ended it.
func WithChannelClose(fn func(error)) ChannelOption {
	return func(c *channelConfig) { c.onClose = fn }
}

func newChannelConfig(opts []ChannelOption) channelConfig {
	cfg := channelConfig{
		log:  slog.Default(),
		name: "remote",
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// channel is the websocket plumbing shared by both endpoint kinds. Frames
// are queued to a writer goroutine; the reader is owned by the wrapper.
type channel struct {
	conn *websocket.Conn
	send chan []byte
	quit chan struct{}
	once sync.Once
}

// dialChannel connects to the relay and registers the role before anything
// else goes over the wire.
func dialChannel(ctx context.Context, url string, role Role) (*channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %q: %w", url, err)
	}

	reg, err := encodeFrame(Register{Type: registerType, Role: role})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := conn.WriteMessage(websocket.TextMessage, reg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bridge: register as %s: %w", role, err)
	}

	c := &channel{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		quit: make(chan struct{}),
	}

	go c.writePump()

	return c, nil
}

// Send queues one frame. It blocks only while the writer has a full queue
// and the connection is still alive.
func (c *channel) Send(frame []byte) error {
	select {
	case <-c.quit:
		return ErrChannelClosed
	case c.send <- frame:
		return nil
	}
}

func (c *channel) writePump() {
	defer c.shutdown()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.quit:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)

			return
		}
	}
}

// readLoop delivers inbound frames until the connection ends, then reports
// the terminating error to onClose.
func (c *channel) readLoop(onFrame func([]byte), onClose func(error)) {
	var err error

	for {
		var data []byte

		_, data, err = c.conn.ReadMessage()
		if err != nil {
			break
		}

		onFrame(data)
	}

	c.shutdown()

	if onClose != nil {
		onClose(err)
	}
}

func (c *channel) shutdown() {
	c.once.Do(func() {
		close(c.quit)
		_ = c.conn.Close()
	})
}

func (c *channel) closed() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *channel) Close() error {
	c.shutdown()
	return nil
}

// ProgramHandlers receives the classified control commands on the program
// side. Nil fields drop their command kind.
type ProgramHandlers struct {
	OnPreset   func(id string)
	OnGain     func(band string, value float64)
	OnToggle   func(name string, enabled bool)
	OnRenderer func(name string)
	OnParam    func(effect, param string, value float64)
}

// ProgramChannel is the program side of a relay connection: a bus source
// for remote MIDI traffic, a command dispatcher for everything else, and
// the sender of state snapshots. It registers on the bus as a transient
// source; unregistering closes the connection.
type ProgramChannel struct {
	ch       *channel
	log      *slog.Logger
	name     string
	now      func() time.Time
	timing   func(m midi.Message, at time.Time)
	handlers ProgramHandlers

	mu   sync.Mutex
	dec  midi.Decoder
	sink func(bus.Event)
}

// DialProgram connects to the relay as the program endpoint.
func DialProgram(ctx context.Context, url string, handlers ProgramHandlers, opts ...ChannelOption) (*ProgramChannel, error) {
	cfg := newChannelConfig(opts)

	ch, err := dialChannel(ctx, url, RoleProgram)
	if err != nil {
		return nil, err
	}

	p := &ProgramChannel{
		ch:       ch,
		log:      cfg.log,
		name:     cfg.name,
		now:      cfg.now,
		timing:   cfg.timing,
		handlers: handlers,
	}

	go ch.readLoop(p.handleFrame, cfg.onClose)

	return p, nil
}

// Name implements bus.Emitter.
func (p *ProgramChannel) Name() string { return p.name }

// Attach implements bus.Emitter.
func (p *ProgramChannel) Attach(sink func(bus.Event)) func() {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		p.sink = nil
		p.mu.Unlock()
	}
}

// Close implements bus.Closer.
func (p *ProgramChannel) Close() error {
	return p.ch.Close()
}

// Closed reports whether the connection has ended.
func (p *ProgramChannel) Closed() bool {
	return p.ch.closed()
}

// SendStatus broadcasts one state snapshot to every control endpoint.
func (p *ProgramChannel) SendStatus(st Status) error {
	st.State = statusState

	frame, err := encodeFrame(st)
	if err != nil {
		return err
	}

	return p.ch.Send(frame)
}

// handleFrame classifies one inbound control frame. Malformed traffic is
// logged and dropped.
func (p *ProgramChannel) handleFrame(data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Command == "" {
		p.log.Debug("bridge: unreadable command dropped", "err", err)
		return
	}

	switch cmd.Command {
	case CmdMIDI:
		p.feedMIDI(cmd.Bytes())
	case CmdPreset:
		if p.handlers.OnPreset != nil && cmd.ID != "" {
			p.handlers.OnPreset(cmd.ID)
		}
	case CmdGain:
		if p.handlers.OnGain != nil && cmd.Band != "" {
			p.handlers.OnGain(cmd.Band, cmd.Value)
		}
	case CmdToggle:
		if p.handlers.OnToggle != nil && cmd.Name != "" && cmd.Enabled != nil {
			p.handlers.OnToggle(cmd.Name, *cmd.Enabled)
		}
	case CmdRenderer:
		if p.handlers.OnRenderer != nil && cmd.Renderer != "" {
			p.handlers.OnRenderer(cmd.Renderer)
		}
	case CmdParam:
		if p.handlers.OnParam != nil && cmd.Effect != "" && cmd.Param != "" {
			p.handlers.OnParam(cmd.Effect, cmd.Param, cmd.Value)
		}
	default:
		p.log.Debug("bridge: unknown command dropped", "command", cmd.Command)
	}
}

// feedMIDI runs remote bytes through the shared decoder, exactly like a
// local device.
func (p *ProgramChannel) feedMIDI(raw []byte) {
	at := p.now()

	p.mu.Lock()
	msgs := p.dec.FeedAll(raw)
	sink := p.sink
	p.mu.Unlock()

	for _, m := range msgs {
		if m.IsRealtime() || m.Type == midi.TypeSongPosition {
			if p.timing != nil {
				p.timing(m, at)
			}

			continue
		}

		if sink == nil {
			continue
		}

		meta := bus.Meta{From: p.name, At: at}

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
			p.log.Debug("bridge: remote midi dropped", "type", m.Type.String())
		}
	}
}

// ControlChannel is the operator side of a relay connection: it sends
// commands and receives program state snapshots.
type ControlChannel struct {
	ch  *channel
	log *slog.Logger
}

// DialControl connects to the relay as a control endpoint. onStatus, if
// non-nil, receives each program state snapshot.
func DialControl(ctx context.Context, url string, onStatus func(Status), opts ...ChannelOption) (*ControlChannel, error) {
	cfg := newChannelConfig(opts)

	ch, err := dialChannel(ctx, url, RoleControl)
	if err != nil {
		return nil, err
	}

	c := &ControlChannel{ch: ch, log: cfg.log}

	go ch.readLoop(func(data []byte) {
		var st Status
		if err := json.Unmarshal(data, &st); err != nil || st.State != statusState {
			c.log.Debug("bridge: unreadable status dropped", "err", err)
			return
		}

		if onStatus != nil {
			onStatus(st)
		}
	}, cfg.onClose)

	return c, nil
}

// SendMIDI forwards raw MIDI bytes to the program.
func (c *ControlChannel) SendMIDI(raw []byte) error {
	data := make([]int, len(raw))
	for i, b := range raw {
		data[i] = int(b)
	}

	return c.sendCommand(Command{Command: CmdMIDI, Data: data})
}

// SendPreset asks the program to mount a preset.
func (c *ControlChannel) SendPreset(id string) error {
	return c.sendCommand(Command{Command: CmdPreset, ID: id})
}

// SendGain moves one EQ band knob, value in 0..100.
func (c *ControlChannel) SendGain(band string, value float64) error {
	return c.sendCommand(Command{Command: CmdGain, Band: band, Value: value})
}

// SendToggle switches one chain effect.
func (c *ControlChannel) SendToggle(name string, enabled bool) error {
	return c.sendCommand(Command{Command: CmdToggle, Name: name, Enabled: &enabled})
}

// SendRenderer asks the program to switch renderer.
func (c *ControlChannel) SendRenderer(name string) error {
	return c.sendCommand(Command{Command: CmdRenderer, Renderer: name})
}

// SendParam forwards one raw chain parameter change.
func (c *ControlChannel) SendParam(effect, param string, value float64) error {
	return c.sendCommand(Command{Command: CmdParam, Effect: effect, Param: param, Value: value})
}

// Close tears the connection down.
func (c *ControlChannel) Close() error {
	return c.ch.Close()
}

// Closed reports whether the connection has ended.
func (c *ControlChannel) Closed() bool {
	return c.ch.closed()
}

func (c *ControlChannel) sendCommand(cmd Command) error {
	frame, err := encodeFrame(cmd)
	if err != nil {
		return err
	}

	return c.ch.Send(frame)
}
