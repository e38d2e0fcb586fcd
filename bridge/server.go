package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger, default slog.Default.
func WithServerLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// Server is the relay process: one listener carrying both the websocket
// endpoint at /ws and the static asset tree at /.
type Server struct {
	log  *slog.Logger
	hub  *Hub
	ln   net.Listener
	http *http.Server
}

// NewServer binds addr and prepares the relay over the asset tree at root.
func NewServer(addr, root string, opts ...ServerOption) (*Server, error) {
	s := &Server{log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.hub = NewHub(WithHubLogger(s.log))

	assets, err := StaticHandler(root, s.log)
	if err != nil {
		return nil, fmt.Errorf("bridge: asset root %q: %w", root, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.ServeWS)
	mux.Handle("/", assets)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bridge: listen %q: %w", addr, err)
	}

	s.ln = ln
	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Run serves until ctx ends, then drops every relay session and shuts the
// listener down.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		s.hub.Run(hubCtx)
	}()

	errc := make(chan error, 1)

	go func() {
		errc <- s.http.Serve(s.ln)
	}()

	s.log.Info("bridge: relay listening", "addr", s.ln.Addr().String())

	select {
	case <-ctx.Done():
		stopHub()
		wg.Wait()

		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := s.http.Shutdown(shutCtx)
		<-errc

		return err
	case err := <-errc:
		stopHub()
		wg.Wait()

		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("bridge: serve: %w", err)
	}
}
