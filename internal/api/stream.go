package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polystream/internal/broadcast"
	"polystream/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // CORS middleware already gates this
}

// Hub tracks connected WebSocket clients for diagnostics and coordinated
// shutdown. Fan-out itself happens per-client: each Client owns its own
// broadcast.Subscription onto the aggregate event stream, so a slow client
// only ever loses its own oldest events, never another client's.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]bool
	logger  *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		logger:  logger.With("component", "ws-hub"),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", "count", count)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client disconnected", "count", count)
}

// ClientCount reports how many WebSocket clients are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every connected client's underlying connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Client is one connected WebSocket consumer of the aggregated event
// stream.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	sub  *broadcast.Subscription[types.ParsedEvent]
}

// NewClient registers a client and starts its read/write pumps. The
// client's subscription is drained until the connection closes, at which
// point it unsubscribes from the aggregate stream.
func NewClient(hub *Hub, conn *websocket.Conn, sub *broadcast.Subscription[types.ParsedEvent], logger *slog.Logger) *Client {
	c := &Client{hub: hub, conn: conn, sub: sub}
	hub.register(c)

	go c.writePump()
	go c.readPump()

	return c
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.sub.Notify():
			for _, evt := range c.sub.Drain() {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				data, err := json.Marshal(WSEnvelope{Type: "event", Timestamp: time.Now(), Data: evt})
				if err != nil {
					continue
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.sub.Unsubscribe()
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "error", err)
			}
			return
		}
		// The feed is read-only; any client message is ignored.
	}
}
