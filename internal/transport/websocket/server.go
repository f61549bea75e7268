// Package websocket provides WebSocket push delivery for remindq.
//
// Clients open a WebSocket connection to:
//
//	GET /ws[?author_id=N]
//
// Without author_id a client receives every delivered reminder; with it, only
// that author's. The Hub is a dispatch sink: each reminder the dispatcher
// hands it is fanned out to the matching connections.
//
// Server → client frame:
//
//	{"type":"reminder","id":"<ULID>","author_id":42,"time":"...","message":"...","target":"...","created_at":"..."}
//
// Clients send nothing; any inbound frame is read and discarded.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/snehjoshi/remindq/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin upgrade requests. A request is
	// same-origin when its Origin host matches the Host header (scheme-agnostic).
	// Requests without an Origin header (native clients, curl) are allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host, err := parseHost(origin)
		if err != nil {
			return false
		}
		return host == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// serverFrame is the JSON structure the server sends to the client.
type serverFrame struct {
	Type      string    `json:"type"` // "reminder"
	ID        string    `json:"id"`
	AuthorID  uint64    `json:"author_id"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Target    string    `json:"target,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// client is one upgraded connection.
type client struct {
	conn     *gorillaws.Conn
	authorID uint64
	filtered bool
	send     chan []byte
}

func (c *client) wants(e types.Entry) bool {
	return !c.filtered || c.authorID == e.AuthorID
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

// WithSendBuffer sets how many frames may queue per client before the client
// is considered too slow and disconnected. Defaults to 64.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) { h.sendBuf = n }
}

// Hub tracks live connections and broadcasts delivered reminders to them.
// It implements dispatch.Sink and http.Handler.
type Hub struct {
	log     *slog.Logger
	sendBuf int

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub returns an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		log:     slog.Default(),
		sendBuf: 64,
		clients: make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Name labels the hub in dispatcher logs and metrics.
func (h *Hub) Name() string { return "websocket" }

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Deliver queues e for every matching client. Clients whose buffer is full are
// disconnected. It never blocks on a connection and always returns nil.
func (h *Hub) Deliver(_ context.Context, e types.Entry) error {
	data, err := json.Marshal(serverFrame{
		Type:      "reminder",
		ID:        e.ID,
		AuthorID:  e.AuthorID,
		Time:      e.Time,
		Message:   e.Message,
		Target:    e.Target,
		CreatedAt: e.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("websocket: marshal frame: %w", err)
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(e) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("websocket client too slow, disconnecting", "remote", c.remote())
		h.remove(c)
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the connection, registers it and blocks until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := &client{}
	if v := r.URL.Query().Get("author_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "author_id must be an unsigned integer")
			return
		}
		c.authorID, c.filtered = id, true
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	c.conn = conn
	c.send = make(chan []byte, h.sendBuf)
	h.add(c)

	go h.writeLoop(c)

	// Read until the peer closes; inbound frames are ignored.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
	conn.Close()
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(gorillaws.CloseMessage, gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("websocket client connected", "remote", c.remote(), "author_id", c.authorID, "clients", n)
}

// remove unregisters c and closes its send channel. Safe to call twice.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (c *client) remote() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// writeError replies with the {"error": msg} JSON body the HTTP API uses.
func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
