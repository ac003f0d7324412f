// Package wsclient connects to the upstream market-data WebSocket feed and
// turns raw frames into parsed events. It owns a single connection attempt
// and its ping/read loop; reconnection policy lives one layer up, in
// internal/worker, matching how the original streaming worker treats its
// WS client as connect-once-per-attempt rather than self-reconnecting.
package wsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polystream/internal/parser"
	"polystream/pkg/types"
)

const (
	pingInterval = 50 * time.Second
	readTimeout  = 90 * time.Second
	writeTimeout = 10 * time.Second
)

// FeedKind selects which channel a Client subscribes to.
type FeedKind int

const (
	FeedMarket FeedKind = iota
	FeedUser
)

// AuthPayload supplies the credentials sent with a user-channel subscription.
// Market-channel connections pass a nil AuthPayload.
type AuthPayload interface {
	WSAuthPayload() *types.WSAuth
}

// Client manages a single WebSocket connection to the upstream feed.
type Client struct {
	url      string
	feedKind FeedKind
	auth     AuthPayload

	connMu sync.Mutex
	conn   *websocket.Conn

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	messages chan types.ParsedEvent
	errMu    sync.Mutex
	lastErr  error

	logger *slog.Logger
}

// New creates a Client for the given feed. bufferSize sizes the parsed-event
// channel (the spec's event_buffer_size).
func New(wsURL string, kind FeedKind, auth AuthPayload, bufferSize int, logger *slog.Logger) *Client {
	name := "ws_market"
	if kind == FeedUser {
		name = "ws_user"
	}
	return &Client{
		url:        wsURL,
		feedKind:   kind,
		auth:       auth,
		subscribed: make(map[string]bool),
		messages:   make(chan types.ParsedEvent, bufferSize),
		logger:     logger.With("component", name),
	}
}

// Messages returns the channel of parsed events. It is closed when the
// connection drops or ctx is cancelled; callers should check Err afterward.
func (c *Client) Messages() <-chan types.ParsedEvent { return c.messages }

// Err returns the error that caused the last Connect's read loop to end, if
// any. Only meaningful after Messages() has been closed.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// Connect dials the feed, sends the initial subscription for the given
// asset IDs, and starts the ping and read loops in the background. It
// returns once the connection is established (or the dial/subscribe
// fails); the read loop continues until ctx is cancelled or the connection
// is lost, at which point Messages() is closed.
func (c *Client) Connect(ctx context.Context, assetIDs []string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.subscribedMu.Lock()
	for _, id := range assetIDs {
		c.subscribed[id] = true
	}
	c.subscribedMu.Unlock()

	if err := c.sendInitialSubscription(); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	c.logger.Info("websocket connected", "assets", len(assetIDs))

	pingCtx, pingCancel := context.WithCancel(ctx)
	go c.pingLoop(pingCtx)
	go c.readLoop(ctx, conn, pingCancel)

	return nil
}

// Subscribe adds asset IDs to the live connection's subscription.
func (c *Client) Subscribe(ids []string) error {
	c.subscribedMu.Lock()
	for _, id := range ids {
		c.subscribed[id] = true
	}
	c.subscribedMu.Unlock()

	return c.writeJSON(types.WSUpdateMsg{AssetIDs: ids, Operation: "subscribe"})
}

// Unsubscribe removes asset IDs from the live connection's subscription.
func (c *Client) Unsubscribe(ids []string) error {
	c.subscribedMu.Lock()
	for _, id := range ids {
		delete(c.subscribed, id)
	}
	c.subscribedMu.Unlock()

	return c.writeJSON(types.WSUpdateMsg{AssetIDs: ids, Operation: "unsubscribe"})
}

// Disconnect closes the underlying connection, if any.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) sendInitialSubscription() error {
	c.subscribedMu.RLock()
	ids := make([]string, 0, len(c.subscribed))
	for id := range c.subscribed {
		ids = append(ids, id)
	}
	c.subscribedMu.RUnlock()

	msg := types.WSSubscribeMsg{AssetIDs: ids}
	if c.feedKind == FeedUser {
		msg.Type = "user"
		if c.auth != nil {
			msg.Auth = c.auth.WSAuthPayload()
		}
	} else {
		msg.Type = "market"
	}
	return c.writeJSON(msg)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, stopPing context.CancelFunc) {
	defer stopPing()
	defer close(c.messages)
	defer func() {
		c.connMu.Lock()
		if c.conn == conn {
			conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			c.setErr(ctx.Err())
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.setErr(fmt.Errorf("read: %w", err))
			return
		}

		events, err := parser.Parse(raw)
		if err != nil {
			c.logger.Debug("ignoring unparseable ws message", "error", err)
			continue
		}

		for _, evt := range events {
			select {
			case c.messages <- evt:
			case <-ctx.Done():
				c.setErr(ctx.Err())
				return
			}
		}
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *Client) writeMessage(msgType int, data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(msgType, data)
}
