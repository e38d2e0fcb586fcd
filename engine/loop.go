package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cwbudde/algo-vj/bridge"
	"github.com/cwbudde/algo-vj/render"
	"github.com/cwbudde/algo-vj/settings"
)

const relayDialTimeout = 5 * time.Second

// Run drives the engine until ctx ends: module handshake, restored
// choices, device watching, the display frame loop, and the relay link
// with its status heartbeat. A failed handshake leaves the pipeline inert
// while the visual path keeps running.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.host.Start(ctx, e.module); err != nil {
		if ctx.Err() != nil {
			e.shutdown()
			return err
		}

		e.log.Error("engine: pipeline start failed", "err", err)
	}

	e.restore()

	var wg sync.WaitGroup

	if e.watcher != nil {
		wg.Add(1)

		go func() {
			defer wg.Done()
			e.watcher.Run(ctx)
		}()
	}

	e.ensureRelay(ctx)

	frame := time.NewTicker(time.Second / time.Duration(e.frameRate))
	defer frame.Stop()

	heart := time.NewTicker(e.heartbeat)
	defer heart.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			e.shutdown()

			return nil
		case now := <-frame.C:
			e.mux.Frame(now)
			e.pushIfChanged()
		case <-heart.C:
			e.ensureRelay(ctx)
			e.pushStatus()
		}
	}
}

// restore reapplies the persisted choices, option overrides winning. With
// nothing persisted the first registered preset and the shader come up.
func (e *Engine) restore() {
	id := e.startPreset
	if id == "" {
		id, _ = e.store.Get(settings.KeyLastPreset)
	}

	if id == "" {
		if ids := e.presets.IDs(); len(ids) > 0 {
			id = ids[0]
		}
	}

	if id != "" {
		if err := e.MountPreset(id); err != nil {
			e.log.Warn("engine: preset restore failed", "preset", id, "err", err)
		}
	}

	name := e.startRenderer
	if name == "" {
		name, _ = e.store.Get(settings.KeyRenderer)
	}

	if name == "" {
		name = render.KindShader.String()
	}

	if err := e.SwitchRenderer(name); err != nil {
		e.log.Warn("engine: renderer restore failed", "renderer", name, "err", err)
	}
}

// ensureRelay dials the relay when configured and not connected. Retries
// ride the heartbeat tick, so a dead relay costs one dial per beat.
func (e *Engine) ensureRelay(ctx context.Context) {
	e.mu.Lock()
	url := e.relayURL
	connected := e.remote != nil
	e.mu.Unlock()

	if url == "" || connected {
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, relayDialTimeout)
	defer cancel()

	remote, err := bridge.DialProgram(dialCtx, url, e.remoteHandlers(),
		bridge.WithChannelLogger(e.log),
		bridge.WithChannelTiming(e.clock.Ingest),
		bridge.WithChannelClose(func(error) { e.evictDeadRelay() }),
	)
	if err != nil {
		e.log.Warn("engine: relay dial failed", "url", url, "err", err)
		return
	}

	if err := e.events.Register(remote); err != nil {
		e.log.Warn("engine: relay register failed", "err", err)
		_ = remote.Close()

		return
	}

	e.mu.Lock()
	e.remote = remote
	e.mu.Unlock()

	e.log.Info("engine: relay connected", "url", url)
	e.pushStatus()
}

// remoteHandlers maps relay commands onto engine operations. Rejections are
// logged and dropped; a remote cannot crash the deck.
func (e *Engine) remoteHandlers() bridge.ProgramHandlers {
	return bridge.ProgramHandlers{
		OnPreset: func(id string) {
			if err := e.MountPreset(id); err != nil {
				e.log.Warn("engine: remote preset rejected", "preset", id, "err", err)
			}
		},
		OnGain:   e.SetGain,
		OnToggle: e.ToggleEffect,
		OnRenderer: func(name string) {
			if err := e.SwitchRenderer(name); err != nil {
				e.log.Warn("engine: remote renderer rejected", "renderer", name, "err", err)
			}
		},
		OnParam: e.SetParam,
	}
}

// evictDeadRelay runs on the channel's goroutine when the connection ends.
// The send-failure path in pushStatus covers the narrow window where the
// hook fires before the dial result is recorded.
func (e *Engine) evictDeadRelay() {
	e.mu.Lock()
	remote := e.remote
	e.mu.Unlock()

	if remote != nil && remote.Closed() {
		e.dropRelayIf(remote)
	}
}

// dropRelayIf detaches remote when it is still the current connection.
// Unregister runs before the slot is cleared so a concurrent redial cannot
// register a fresh channel under the name being removed.
func (e *Engine) dropRelayIf(remote *bridge.ProgramChannel) {
	e.mu.Lock()
	current := e.remote == remote
	e.mu.Unlock()

	if !current {
		return
	}

	_ = e.events.Unregister(remote.Name())

	e.mu.Lock()
	if e.remote == remote {
		e.remote = nil
	}
	e.mu.Unlock()

	e.log.Warn("engine: relay disconnected")
}

// pushStatus sends one snapshot to the relay. A failed send means the
// connection died; evict it and let the heartbeat redial.
func (e *Engine) pushStatus() {
	e.mu.Lock()
	remote := e.remote
	e.dirty = false
	e.mu.Unlock()

	if remote == nil {
		return
	}

	if err := remote.SendStatus(e.Status()); err != nil {
		e.dropRelayIf(remote)
	}
}

// pushIfChanged sends a snapshot only when an operation marked the state
// dirty since the last push.
func (e *Engine) pushIfChanged() {
	e.mu.Lock()
	if !e.dirty || e.remote == nil {
		e.mu.Unlock()
		return
	}

	e.dirty = false
	remote := e.remote
	e.mu.Unlock()

	if err := remote.SendStatus(e.Status()); err != nil {
		e.dropRelayIf(remote)
	}
}

// shutdown releases every collaborator: inputs first so nothing publishes
// into a closing graph, then the visual path, then audio.
func (e *Engine) shutdown() {
	e.mu.Lock()
	remote := e.remote
	e.mu.Unlock()

	if remote != nil {
		e.dropRelayIf(remote)
	}

	if e.osc != nil {
		_ = e.events.Unregister(e.osc.Name())
	}

	e.runtime.Close()
	e.mux.Close()
	_ = e.host.Close()

	e.saveSettings()
}
