// Command vjd runs the performance deck: audio analysis, the effects
// pipeline, the preset runtime, renderers, and the relay link.
//
// Usage:
//
//	vjd [flags]
//
// Examples:
//
//	vjd -wav loop.wav
//	vjd -relay ws://localhost:8080/ws -preset tunnel
//	vjd -osc 0.0.0.0:9000 -midi Launchkey -debug
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"github.com/cwbudde/algo-vj/engine"
	"github.com/cwbudde/algo-vj/input"
	"github.com/cwbudde/algo-vj/pipeline"
	"github.com/cwbudde/algo-vj/render"
	"github.com/cwbudde/algo-vj/settings"
)

// initLogger configures the shared slog logger and calls slog.SetDefault so
// the stdlib log package also routes through the same handler.
func initLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	}))
	slog.SetDefault(log)

	return log
}

func main() {
	debug := flag.Bool("debug", false, "verbose logging with source locations")
	relay := flag.String("relay", "", "relay websocket URL (ws://host:port/ws)")
	wav := flag.String("wav", "", "WAV file to loop as the audio input")
	oscBind := flag.String("osc", "", "OSC listen address (host:port)")
	presetID := flag.String("preset", "", "preset to mount on startup")
	renderer := flag.String("renderer", "", "renderer to activate on startup")
	midiPref := flag.String("midi", "", "substring of the preferred MIDI input name")
	stream := flag.String("stream", "", "stream manifest URL to preload")
	inlay := flag.String("inlay", "", "document URL for the inlay renderer")
	fit := flag.String("fit", "cover", "video fit mode: cover, contain or fill")
	fps := flag.Int("fps", 60, "display frames per second")
	block := flag.Int("block", 512, "pipeline block size in samples")
	rate := flag.Float64("rate", 44100, "sample rate when no WAV file is given")
	settingsPath := flag.String("settings", "", "settings file (default ~/.config/algo-vj/settings.json)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vjd [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Runs the performance deck.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  vjd -wav loop.wav\n")
		fmt.Fprintf(os.Stderr, "  vjd -relay ws://localhost:8080/ws -preset tunnel\n")
	}
	flag.Parse()

	log := initLogger(*debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, options{
		relay:        *relay,
		wav:          *wav,
		osc:          *oscBind,
		preset:       *presetID,
		renderer:     *renderer,
		midi:         *midiPref,
		stream:       *stream,
		inlay:        *inlay,
		fit:          *fit,
		fps:          *fps,
		block:        *block,
		rate:         *rate,
		settingsPath: *settingsPath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	relay        string
	wav          string
	osc          string
	preset       string
	renderer     string
	midi         string
	stream       string
	inlay        string
	fit          string
	fps          int
	block        int
	rate         float64
	settingsPath string
}

func run(ctx context.Context, log *slog.Logger, opts options) error {
	store := openStore(log, opts.settingsPath)

	var src *input.WAVSource
	rate := opts.rate
	if opts.wav != "" {
		s, err := input.NewWAVSource(opts.wav,
			input.WithWAVLoop(true),
			input.WithWAVBlockSize(opts.block),
			input.WithWAVLogger(log),
		)
		if err != nil {
			return err
		}

		src = s
		rate = s.SampleRate()
	}

	engineOpts := []engine.Option{
		engine.WithLogger(log),
		engine.WithStore(store),
		engine.WithFormat(pipeline.Format{SampleRate: rate, BlockSize: opts.block}),
		engine.WithRelay(opts.relay),
		engine.WithOSC(opts.osc),
		engine.WithFrameRate(opts.fps),
		engine.WithStartPreset(opts.preset),
		engine.WithStartRenderer(opts.renderer),
		engine.WithFit(render.ParseFit(opts.fit)),
	}

	if opts.stream != "" {
		engineOpts = append(engineOpts, engine.WithStreamURL(opts.stream))
	}

	if opts.inlay != "" {
		engineOpts = append(engineOpts, engine.WithInlay(opts.inlay))
	}

	ports, err := input.OpenSystemPorts()
	if err != nil {
		log.Warn("vjd: midi unavailable", "err", err)
	} else {
		defer ports.Close()

		engineOpts = append(engineOpts, engine.WithPorts(ports))
		if opts.midi != "" {
			engineOpts = append(engineOpts, engine.WithPreferredDevice(opts.midi))
		}
	}

	eng, err := engine.NewEngine(engineOpts...)
	if err != nil {
		return err
	}

	if src != nil {
		sr := beep.SampleRate(int(rate))
		if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
			log.Warn("vjd: speaker unavailable", "err", err)
		} else {
			speaker.Play(pipeline.NewSink(eng.Output()))
		}

		if err := src.Start(eng.Consume); err != nil {
			return err
		}
		defer src.Stop()
	}

	return eng.Run(ctx)
}

// openStore loads the settings file, falling back to an in-memory store so
// a broken config never keeps the deck from starting.
func openStore(log *slog.Logger, path string) settings.Store {
	var err error
	if path == "" {
		path, err = settings.DefaultPath()
		if err != nil {
			log.Warn("vjd: no settings path", "err", err)
			return settings.NewMem()
		}
	}

	store, err := settings.Open(path)
	if err != nil {
		log.Warn("vjd: settings unreadable", "path", path, "err", err)
		return settings.NewMem()
	}

	return store
}
