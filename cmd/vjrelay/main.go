// Command vjrelay runs the relay: a websocket hub pairing program and
// control endpoints, plus a static file server for the deck assets.
//
// Usage:
//
//	vjrelay [flags] [port]
//
// Examples:
//
//	vjrelay
//	vjrelay 9000
//	vjrelay -root ./web 8080
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cwbudde/algo-vj/bridge"
)

func main() {
	root := flag.String("root", ".", "directory the deck assets are served from")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vjrelay [flags] [port]\n\n")
		fmt.Fprintf(os.Stderr, "Relays frames between program and control endpoints on /ws\n")
		fmt.Fprintf(os.Stderr, "and serves deck assets from the root directory. The default\n")
		fmt.Fprintf(os.Stderr, "port is 8080.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	addr := "8080"
	if flag.NArg() > 0 {
		addr = flag.Arg(0)
	}

	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	srv, err := bridge.NewServer(addr, *root, bridge.WithServerLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("vjrelay: listening", "addr", srv.Addr(), "root", *root)

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
