// Package engine is the composition root: it wires the input bus, the beat
// reconstructor, the effects pipeline, the preset runtime, and the renderer
// multiplexer into one runnable program, restores persisted choices on
// startup, and mirrors its state to the relay.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwbudde/algo-vj/bridge"
	"github.com/cwbudde/algo-vj/bus"
	"github.com/cwbudde/algo-vj/clock"
	"github.com/cwbudde/algo-vj/input"
	"github.com/cwbudde/algo-vj/pipeline"
	"github.com/cwbudde/algo-vj/preset"
	"github.com/cwbudde/algo-vj/render"
	"github.com/cwbudde/algo-vj/settings"
)

const (
	defaultFrameRate = 60
	defaultHeartbeat = time.Second
	defaultSurfaceW  = 640
	defaultSurfaceH  = 360
)

// Option configures an Engine before construction.
type Option func(*Engine)

// WithLogger routes engine logging to log.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithStore sets the settings store choices persist to. The default is an
// in-memory store that forgets everything on exit.
func WithStore(store settings.Store) Option {
	return func(e *Engine) {
		if store != nil {
			e.store = store
		}
	}
}

// WithFormat sets the audio format the pipeline processes.
func WithFormat(f pipeline.Format) Option {
	return func(e *Engine) {
		if f.SampleRate > 0 && f.BlockSize > 0 {
			e.format = f
		}
	}
}

// WithModule sets the effects module loaded on startup.
func WithModule(mod pipeline.ModuleData) Option {
	return func(e *Engine) { e.module = mod }
}

// WithPresets replaces the built-in preset registry.
func WithPresets(reg *preset.Registry) Option {
	return func(e *Engine) { e.presets = reg }
}

// WithPorts enables MIDI device watching over ports.
func WithPorts(ports input.Ports) Option {
	return func(e *Engine) { e.ports = ports }
}

// WithPreferredDevice biases device selection toward ports whose names
// contain one of the patterns.
func WithPreferredDevice(patterns ...string) Option {
	return func(e *Engine) { e.preferred = patterns }
}

// WithRelay sets the relay websocket URL the engine keeps a program
// connection to. Empty disables the relay link.
func WithRelay(url string) Option {
	return func(e *Engine) { e.relayURL = url }
}

// WithOSC sets the OSC listen address, overriding the persisted one.
func WithOSC(bind string) Option {
	return func(e *Engine) { e.oscBind = bind }
}

// WithSurfaceSize sets the output surface dimensions.
func WithSurfaceSize(w, h int) Option {
	return func(e *Engine) {
		if w > 0 && h > 0 {
			e.surfaceW, e.surfaceH = w, h
		}
	}
}

// WithFrameRate sets the display loop rate in frames per second.
func WithFrameRate(fps int) Option {
	return func(e *Engine) {
		if fps > 0 {
			e.frameRate = fps
		}
	}
}

// WithHeartbeat sets the interval between unconditional status pushes and
// relay redial attempts.
func WithHeartbeat(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.heartbeat = d
		}
	}
}

// WithStartPreset overrides the persisted preset on startup.
func WithStartPreset(id string) Option {
	return func(e *Engine) { e.startPreset = id }
}

// WithStartRenderer overrides the persisted renderer on startup.
func WithStartRenderer(name string) Option {
	return func(e *Engine) { e.startRenderer = name }
}

// WithCapture provides the camera device the local video renderer opens.
func WithCapture(c render.Capture) Option {
	return func(e *Engine) { e.capture = c }
}

// WithFit sets the fit mode the video renderers map their picture with.
func WithFit(fit render.Fit) Option {
	return func(e *Engine) { e.fit = fit }
}

// WithStreamURL preloads the stream renderer so switching to it starts
// playback immediately.
func WithStreamURL(url string) Option {
	return func(e *Engine) { e.streamURL = url }
}

// WithInlay sets the document URL the inlay renderer panels.
func WithInlay(url string) Option {
	return func(e *Engine) { e.inlayURL = url }
}

// Engine owns one running program. Every collaborator below lives exactly
// as long as the engine; Run drives them until its context ends.
type Engine struct {
	log   *slog.Logger
	store settings.Store

	format    pipeline.Format
	module    pipeline.ModuleData
	surfaceW  int
	surfaceH  int
	frameRate int
	heartbeat time.Duration

	relayURL      string
	oscBind       string
	startPreset   string
	startRenderer string
	streamURL     string
	inlayURL      string
	capture       render.Capture
	fit           render.Fit
	ports         input.Ports
	preferred     []string

	events   *bus.Bus
	clock    *clock.Reconstructor
	analyzer *input.Analyzer
	host     *pipeline.Host
	surface  *render.Surface
	mux      *render.Mux
	runtime  *preset.Runtime
	presets  *preset.Registry
	watcher  *input.Watcher
	osc      *input.OSCSource
	stream   *render.StreamOwner
	owners   map[render.Kind]render.Owner

	mu     sync.Mutex
	remote *bridge.ProgramChannel
	dirty  bool
}

// NewEngine builds the full collaborator graph. The engine is inert until
// Run is called; operations that only touch local state work immediately.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		log:       slog.Default(),
		store:     settings.NewMem(),
		format:    pipeline.Format{SampleRate: 44100, BlockSize: 512},
		module:    pipeline.DefaultModule(),
		surfaceW:  defaultSurfaceW,
		surfaceH:  defaultSurfaceH,
		frameRate: defaultFrameRate,
		heartbeat: defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.presets == nil {
		e.presets = preset.Builtin()
	}

	e.events = bus.New(bus.WithLogger(e.log))
	e.clock = clock.New(e.events, clock.WithLogger(e.log))

	analyzer, err := input.NewAnalyzer(e.format.SampleRate,
		input.WithOnset(e.clock.OnsetHint),
	)
	if err != nil {
		return nil, fmt.Errorf("engine: analyzer: %w", err)
	}

	e.analyzer = analyzer

	// The analyzer is fed directly by Consume, not by a device it owns, so
	// it must survive any unregister.
	if err := e.events.Register(analyzer, bus.Persistent()); err != nil {
		return nil, fmt.Errorf("engine: register analyzer: %w", err)
	}

	e.host = pipeline.NewHost(e.format, pipeline.WithLogger(e.log))

	e.surface = render.NewSurface(e.surfaceW, e.surfaceH)
	e.mux = render.NewMux(e.surface, render.WithMuxLogger(e.log))
	e.mux.BindBus(e.events)

	e.runtime = preset.NewRuntime(e.events, e.surface, preset.WithLogger(e.log))

	e.stream = render.NewStream(
		render.WithStreamLogger(e.log),
		render.WithStreamFit(e.fit),
		render.WithStreamFatal(e.streamFailed),
	)
	if e.streamURL != "" {
		e.stream.Load(e.streamURL)
	}

	e.owners = map[render.Kind]render.Owner{
		render.KindShader:      render.NewShader(),
		render.KindScene3D:     render.NewScene3D(e.runtime.Tick),
		render.KindVideoLocal:  render.NewCamera(e.capture, e.fit),
		render.KindVideoStream: e.stream,
		render.KindInlay:       render.NewInlay(e.inlayURL),
	}

	if e.ports != nil {
		e.watcher = input.NewWatcher(e.events, e.ports,
			input.WithWatcherLogger(e.log),
			input.WithStore(e.store),
			input.WithTiming(e.clock.Ingest),
			input.WithPreferred(e.preferred...),
		)
	}

	e.bindOSC()

	// Status mirrors follow transport changes from any source, not just
	// local operations.
	e.events.Subscribe(bus.KindTransport, func(bus.Event) { e.markDirty() })

	return e, nil
}

// bindOSC opens the OSC listener when an address is configured. Bind
// failures are logged, not fatal: the deck runs fine without OSC.
func (e *Engine) bindOSC() {
	bind := e.oscBind
	if bind == "" {
		bind, _ = e.store.Get(settings.KeyOSCServer)
	}

	if bind == "" {
		return
	}

	osc, err := input.NewOSCSource(bind, e.events.Transport(),
		input.WithOSCLogger(e.log),
		input.WithOSCPreset(func(id string) {
			if err := e.MountPreset(id); err != nil {
				e.log.Warn("engine: osc preset rejected", "preset", id, "err", err)
			}
		}),
	)
	if err != nil {
		e.log.Warn("engine: osc bind failed", "addr", bind, "err", err)
		return
	}

	if err := e.events.Register(osc); err != nil {
		e.log.Warn("engine: osc register failed", "err", err)
		_ = osc.Close()

		return
	}

	e.osc = osc
	e.store.Set(settings.KeyOSCServer, bind)
	e.log.Info("engine: osc listening", "addr", osc.LocalAddr())
}

// Consume feeds one block of mono samples into the pipeline input ring and
// the spectrum analyzer. It is the callback handed to an audio source.
func (e *Engine) Consume(block []float64) {
	e.host.Input().Write(block)
	e.analyzer.Push(block)
}

// MountPreset mounts the registered preset id and persists the choice.
func (e *Engine) MountPreset(id string) error {
	factory, err := e.presets.Lookup(id)
	if err != nil {
		return err
	}

	if err := e.runtime.Mount(id, factory); err != nil {
		return err
	}

	e.store.Set(settings.KeyLastPreset, id)
	e.saveSettings()
	e.markDirty()

	return nil
}

// SetGain moves one EQ band knob. Percent runs 0..100 with 50 flat.
func (e *Engine) SetGain(band string, percent float64) {
	e.host.SetGain(band, percent)
	e.markDirty()
}

// ToggleEffect switches one chain node in or out of the signal path.
func (e *Engine) ToggleEffect(name string, enabled bool) {
	e.host.SetEnabled(name, enabled)
	e.markDirty()
}

// SetParam forwards one raw parameter change to the effects chain.
func (e *Engine) SetParam(effect, param string, value float64) {
	e.host.SetParam(effect, param, value)
}

// SwitchRenderer hands the surface to the named owner and persists the
// choice. When the owner fails to start, the shader takes over so the
// output keeps presenting, and the original error is returned.
func (e *Engine) SwitchRenderer(name string) error {
	kind, err := render.ParseKind(name)
	if err != nil {
		return err
	}

	defer e.markDirty()

	if err := e.mux.Switch(e.owners[kind]); err != nil {
		e.log.Warn("engine: renderer failed", "renderer", name, "err", err)

		if kind != render.KindShader {
			if ferr := e.mux.Switch(e.owners[render.KindShader]); ferr != nil {
				e.log.Error("engine: shader fallback failed", "err", ferr)
			}
		}

		return err
	}

	e.store.Set(settings.KeyRenderer, name)
	e.saveSettings()

	return nil
}

// LoadStream points the stream renderer at rawURL and makes it the active
// owner. Loading an URL while one is already resolving abandons the first.
func (e *Engine) LoadStream(rawURL string) error {
	if kind, ok := e.mux.Active(); ok && kind == render.KindVideoStream {
		e.stream.Load(rawURL)
		e.markDirty()

		return nil
	}

	e.stream.Load(rawURL)

	return e.SwitchRenderer(render.KindVideoStream.String())
}

// streamFailed is the stream owner's fatal hook: give the surface back to
// the shader so dead air never stays on screen. The owner only fires it for
// a session that is still started, so the stream either holds the surface or
// is about to; both end on the shader.
func (e *Engine) streamFailed(err error) {
	e.log.Error("engine: stream failed", "err", err)

	if serr := e.mux.Switch(e.owners[render.KindShader]); serr != nil {
		e.log.Error("engine: shader fallback failed", "err", serr)
	}

	e.markDirty()
}

// Status snapshots the engine for the relay and local UIs.
func (e *Engine) Status() bridge.Status {
	snap := e.events.Transport().Snapshot(time.Now())

	st := bridge.Status{
		BPM:     snap.BPM,
		Playing: snap.Playing,
		Preset:  e.runtime.CurrentID(),
		Ready:   e.host.Ready(),
		Knobs: map[string]float64{
			pipeline.BandLow:  e.host.KnobEcho(pipeline.BandLow),
			pipeline.BandMid:  e.host.KnobEcho(pipeline.BandMid),
			pipeline.BandHigh: e.host.KnobEcho(pipeline.BandHigh),
		},
		Presets:   e.presets.IDs(),
		Renderers: render.KindNames(),
	}

	if kind, ok := e.mux.Active(); ok {
		st.Renderer = kind.String()
	}

	return st
}

// Events returns the input bus.
func (e *Engine) Events() *bus.Bus { return e.events }

// Surface returns the drawing target, for display backends.
func (e *Engine) Surface() *render.Surface { return e.surface }

// Output returns the ring processed audio lands in, for playback sinks.
func (e *Engine) Output() *pipeline.Ring { return e.host.Output() }

func (e *Engine) markDirty() {
	e.mu.Lock()
	e.dirty = true
	e.mu.Unlock()
}

func (e *Engine) saveSettings() {
	if err := e.store.Save(); err != nil {
		e.log.Warn("engine: settings save failed", "err", err)
	}
}
