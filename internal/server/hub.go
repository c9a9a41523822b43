package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexcompanion/internal/bus"
	"github.com/normanking/cortexcompanion/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Inbound is a message from a client
type Inbound struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Character  string `json:"character,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      string `json:"error,omitempty"`
	ID         uint64 `json:"id,omitempty"`
}

// Outbound is a message to clients
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Client is one websocket connection
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans bus events out to every connected client and hands inbound
// messages to a dispatcher. Broadcasting never blocks; a client whose
// queue is full is disconnected.
type Hub struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	dispatch func(ctx context.Context, c *Client, msg Inbound)
	onJoin   func(c *Client)

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a hub forwarding every event published on b
func NewHub(b *bus.EventBus, logger zerolog.Logger) *Hub {
	h := &Hub{
		logger:  logger.With().Str("component", "hub").Logger(),
		clients: make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     allowOrigin,
	}
	if b != nil {
		b.SubscribeAll(func(e bus.Event) {
			h.Broadcast(Outbound{Type: string(e.Type), Data: e.Data})
		})
	}
	return h
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for every client
func (h *Hub) Broadcast(msg Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("failed to encode broadcast")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn().Str("client", c.ID).Msg("client too slow, dropping")
			h.removeLocked(c)
		}
	}
}

// Send queues msg for one client
func (h *Hub) Send(c *Client, msg Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("failed to encode message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.removeLocked(c)
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.ActiveClients.Inc()
	h.logger.Info().Str("client", c.ID).Str("remote", r.RemoteAddr).Msg("client connected")

	go h.writePump(c)

	if h.onJoin != nil {
		h.onJoin(c)
	}
	h.readPump(context.WithoutCancel(r.Context()), c)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.ActiveClients.Dec()
	h.logger.Info().Str("client", c.ID).Msg("client disconnected")
}

func (h *Hub) readPump(ctx context.Context, c *Client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("client", c.ID).Msg("websocket read error")
			}
			return
		}
		if h.dispatch != nil {
			h.dispatch(ctx, c, msg)
		}
	}
}

func (h *Hub) writePump(c *Client) {
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
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// allowOrigin accepts same-host and loopback origins
func allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return u.Host == r.Host
}
