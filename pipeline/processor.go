package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

const (
	portDepth  = 64
	replyDepth = 16
	ringBlocks = 8
)

type chainSlot struct {
	name    string
	effect  Effect
	enabled bool
}

// Processor is the audio half of the pipeline. It owns the effect chain and
// the optional wasm kernel, services the message port, and moves blocks
// from the input ring to the output ring on a dedicated OS thread. Nothing
// outside the pipeline package touches it directly; the Host facade is the
// public surface.
type Processor struct {
	log      *slog.Logger
	format   Format
	registry *Registry

	fromHost chan []byte
	toHost   chan []byte
	done     chan struct{}

	in  *Ring
	out *Ring

	chain  []*chainSlot
	byName map[string]*chainSlot
	wasm   *kernel
	ready  bool
	failed bool
}

func newProcessor(log *slog.Logger, format Format, registry *Registry, in, out *Ring) *Processor {
	return &Processor{
		log:      log,
		format:   format,
		registry: registry,
		fromHost: make(chan []byte, portDepth),
		toHost:   make(chan []byte, replyDepth),
		done:     make(chan struct{}),
		in:       in,
		out:      out,
	}
}

// run services the port and the stream until the host closes the port or
// the module fails to load.
func (p *Processor) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ctx := context.Background()

	defer close(p.done)
	defer func() { p.wasm.close(ctx) }()

	p.send(Envelope{Type: MsgNeedWasm})

	// Nothing processes until the module handshake completes.
	for !p.ready {
		frame, ok := <-p.fromHost
		if !ok {
			return
		}

		p.handleFrame(ctx, frame)

		if p.failed {
			return
		}
	}

	interval := time.Duration(float64(p.format.BlockSize) / p.format.SampleRate * float64(time.Second))
	ticker := time.NewTicker(interval)

	defer ticker.Stop()

	block := make([]float64, p.format.BlockSize)

	for {
		select {
		case frame, ok := <-p.fromHost:
			if !ok {
				return
			}

			p.handleFrame(ctx, frame)
		case <-ticker.C:
			p.in.Read(block)
			p.processBlock(ctx, block)
			p.out.Write(block)
		}
	}
}

func (p *Processor) processBlock(ctx context.Context, block []float64) {
	for _, slot := range p.chain {
		if slot.enabled {
			slot.effect.Process(block)
		}
	}

	if p.wasm != nil {
		if err := p.wasm.processBlock(ctx, block); err != nil {
			p.log.Debug("pipeline: wasm kernel skipped", "err", err)
		}
	}
}

func (p *Processor) handleFrame(ctx context.Context, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		p.log.Warn("pipeline: undecodable port frame", "err", err)
		return
	}

	switch env.Type {
	case MsgWasmBytes:
		if p.ready {
			return
		}

		var data ModuleData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			p.fail(fmt.Sprintf("decode module payload: %v", err))
			return
		}

		p.install(ctx, data)
	case MsgToggle:
		var data ToggleData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			p.log.Warn("pipeline: bad toggle payload", "err", err)
			return
		}

		if slot, ok := p.byName[data.Name]; ok {
			slot.enabled = data.Enabled
		}
	case MsgSetParam:
		var data ParamData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			p.log.Warn("pipeline: bad setParam payload", "err", err)
			return
		}

		slot, ok := p.byName[data.Effect]
		if !ok {
			p.log.Debug("pipeline: setParam for unknown effect", "effect", data.Effect)
			return
		}

		if err := slot.effect.SetParam(data.Param, core.Clamp(data.Value, 0, 1)); err != nil {
			p.log.Debug("pipeline: setParam rejected", "effect", data.Effect, "param", data.Param, "err", err)
		}
	default:
		p.log.Debug("pipeline: unexpected port frame", "type", env.Type)
	}
}

// install builds the chain and the optional kernel from the module payload,
// answering ready or error. Unknown effect types are skipped so a module
// written for a newer build still loads; structural problems reject it.
func (p *Processor) install(ctx context.Context, data ModuleData) {
	nodes, err := ParseChain(data.JSCode)
	if err != nil {
		p.fail(err.Error())
		return
	}

	chain := make([]*chainSlot, 0, len(nodes))
	byName := make(map[string]*chainSlot, len(nodes))

	for _, node := range nodes {
		factory := p.registry.Lookup(node.Type)
		if factory == nil {
			p.log.Warn("pipeline: unknown effect type skipped", "type", node.Type, "name", node.Name)
			continue
		}

		effect := factory()
		if err := effect.Configure(p.format, node.Params); err != nil {
			p.fail(fmt.Sprintf("configure %s: %v", node.Name, err))
			return
		}

		slot := &chainSlot{name: node.Name, effect: effect, enabled: node.Enabled}
		chain = append(chain, slot)
		byName[node.Name] = slot
	}

	if len(data.WasmBytes) > 0 {
		k, err := newKernel(ctx, data.WasmBytes, p.format.BlockSize)
		if err != nil {
			p.fail(fmt.Sprintf("load wasm kernel: %v", err))
			return
		}

		p.wasm = k
	}

	p.chain = chain
	p.byName = byName
	p.ready = true
	p.send(Envelope{Type: MsgReady})
}

func (p *Processor) fail(msg string) {
	p.failed = true

	select {
	case p.toHost <- encodeErr(msg):
	default:
	}
}

func (p *Processor) send(env Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		return
	}

	// The port never blocks the audio thread; the host always drains
	// during the handshake, afterwards replies are best-effort.
	select {
	case p.toHost <- frame:
	default:
	}
}
