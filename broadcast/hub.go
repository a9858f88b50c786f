package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
)

const (
	// writeWait is the per-frame write deadline.
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before its connection
	// counts as dead.
	pongWait = 60 * time.Second

	// pingPeriod is how often ping frames go out. Must be shorter than
	// pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames. Clients only listen, so anything
	// beyond a pong is noise.
	maxMessageSize = 512
)

// ErrClosed is returned by Broadcast once the hub has been closed.
var ErrClosed = errors.New("broadcast: hub closed")

// Options configures a Hub.
type Options struct {
	// QueueSize is each client's buffered send queue. A client whose queue
	// is full when a broadcast arrives is dropped. Defaults to 256.
	QueueSize int

	// CheckOrigin is the websocket upgrade origin policy. Defaults to
	// accepting any origin.
	CheckOrigin func(r *http.Request) bool

	// Logger receives hub events. Defaults to a no-op logger.
	Logger logging.Logger
}

// client is one connected websocket peer.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub delivers JSON envelopes to every connected websocket client.
//
// Contract:
//   - Broadcast marshals the value once and never blocks on a client; a
//     client whose queue is full is dropped instead.
//   - ServeHTTP upgrades the request and serves the client until it
//     disconnects or is dropped, so the hub mounts directly on a mux.
//   - Close tears down every client; later broadcasts fail with ErrClosed.
//   - Safe for concurrent use.
type Hub struct {
	upgrader  websocket.Upgrader
	queueSize int
	logger    logging.Logger

	// mu orders client-map mutation against fan-out: Broadcast sends while
	// holding the read lock, and send channels are only closed under the
	// write lock after the client left the map.
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

var (
	_ core.Broadcaster = (*Hub)(nil)
	_ http.Handler     = (*Hub)(nil)
)

// NewHub creates a hub ready to accept websocket upgrades.
func NewHub(optFns ...func(o *Options)) *Hub {
	opts := Options{
		QueueSize: 256,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		queueSize: opts.QueueSize,
		logger:    opts.Logger,
		clients:   make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("broadcast.upgrade_failed", "remote", r.RemoteAddr, "error", err.Error())
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.queueSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("broadcast.client_connected", "remote", r.RemoteAddr, "clients", count)

	go h.writePump(c)
	go h.readPump(c)
}

// Broadcast implements core.Broadcaster. The value is marshalled once and
// queued to every client.
func (h *Hub) Broadcast(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	var slow []*client

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("broadcast.client_dropped", "reason", "send queue full")
		h.drop(c)
	}

	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops every client and rejects further broadcasts. Safe to call
// multiple times.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range targets {
		close(c.send)
		c.conn.Close()
	}

	h.logger.Info("broadcast.closed", "dropped", len(targets))
	return nil
}

// drop removes a client and tears down its connection. Concurrent calls for
// the same client are fine; only the first one acts.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	remaining := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	c.conn.Close()
	h.logger.Info("broadcast.client_disconnected", "clients", remaining)
}

// writePump drains the client's queue onto the wire and keeps the connection
// alive with pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

// readPump discards inbound frames and notices disconnects.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
