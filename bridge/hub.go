package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds one frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent.
	pongWait = 60 * time.Second
	// pingPeriod keeps pings ahead of the pong deadline.
	pingPeriod = (pongWait * 9) / 10
	// maxFrameSize caps inbound frames.
	maxFrameSize = 64 << 10
	// sendBuffer is the per-connection outbound queue; a consumer that
	// falls this far behind is dropped.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The relay serves browsers on a closed network; any origin may join.
	CheckOrigin: func(*http.Request) bool { return true },
}

// session is one relay connection. role stays empty until the register
// frame arrives and is touched only by the hub loop.
type session struct {
	conn *websocket.Conn
	send chan []byte
	role Role
}

type inbound struct {
	from *session
	data []byte
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger, default slog.Default.
func WithHubLogger(log *slog.Logger) HubOption {
	return func(h *Hub) {
		if log != nil {
			h.log = log
		}
	}
}

// Hub routes relay frames between roles: everything a control endpoint
// sends goes to every open program endpoint and vice versa, verbatim. All
// membership and routing state is owned by the single Run loop.
type Hub struct {
	log *slog.Logger

	register   chan *session
	unregister chan *session
	frames     chan inbound
	done       chan struct{}

	sessions map[*session]struct{}
}

// NewHub creates a hub. Run must be started for connections to progress.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		log:        slog.Default(),
		register:   make(chan *session),
		unregister: make(chan *session),
		frames:     make(chan inbound),
		done:       make(chan struct{}),
		sessions:   make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Run owns the hub state until ctx ends, then drops every session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for s := range h.sessions {
				close(s.send)
			}

			h.sessions = make(map[*session]struct{})

			return
		case s := <-h.register:
			h.sessions[s] = struct{}{}
		case s := <-h.unregister:
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				close(s.send)
			}
		case in := <-h.frames:
			h.route(in.from, in.data)
		}
	}
}

// route forwards one frame to the opposite role set. Frames arriving before
// a valid register are dropped; a repeated register never re-classifies.
func (h *Hub) route(from *session, data []byte) {
	if from.role == "" {
		h.adopt(from, data)
		return
	}

	var reg Register
	if err := json.Unmarshal(data, &reg); err == nil && reg.Type == registerType {
		if reg.Role != from.role {
			h.log.Warn("bridge: role change rejected",
				"have", string(from.role), "want", string(reg.Role))
		}

		return
	}

	to := RoleProgram
	if from.role == RoleProgram {
		to = RoleControl
	}

	for s := range h.sessions {
		if s.role != to {
			continue
		}

		select {
		case s.send <- data:
		default:
			// A stalled consumer must not block the loop; cut it loose.
			h.log.Warn("bridge: slow endpoint dropped", "role", string(s.role))
			delete(h.sessions, s)
			close(s.send)
		}
	}
}

// adopt classifies a fresh session from its first frame.
func (h *Hub) adopt(s *session, data []byte) {
	var reg Register
	if err := json.Unmarshal(data, &reg); err != nil || reg.Type != registerType || !reg.Role.Valid() {
		h.log.Warn("bridge: frame before register dropped", "remote", s.conn.RemoteAddr().String())
		return
	}

	s.role = reg.Role
	h.log.Info("bridge: endpoint registered",
		"role", string(s.role), "remote", s.conn.RemoteAddr().String())
}

// ServeWS upgrades an HTTP request into a relay session.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("bridge: upgrade failed", "err", err)
		return
	}

	s := &session{conn: conn, send: make(chan []byte, sendBuffer)}

	select {
	case h.register <- s:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writePump(s)
	go h.readPump(s)
}

func (h *Hub) readPump(s *session) {
	defer func() {
		h.drop(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("bridge: read failed", "err", err)
			}

			return
		}

		select {
		case h.frames <- inbound{from: s, data: data}:
		case <-h.done:
			return
		}
	}
}

func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drop hands the session back to the loop, or lets it go if the hub has
// already shut down.
func (h *Hub) drop(s *session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}
