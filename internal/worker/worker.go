// Package worker drives a single WebSocket connection's lifecycle: connect,
// stream, apply events to the asset books it owns, reconnect with backoff on
// failure, and broadcast every parsed event to its local subscribers. A
// Worker is deliberately connect-once-per-attempt at the transport layer
// (internal/wsclient); all reconnection policy lives here.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polystream/internal/book"
	"polystream/internal/broadcast"
	"polystream/internal/shardmap"
	"polystream/pkg/types"
)

// StatusKind enumerates the states a Worker can be in.
type StatusKind int

const (
	StatusStopped StatusKind = iota
	StatusStarting
	StatusConnected
	StatusReconnecting
	StatusFailed
	StatusStopping
)

func (k StatusKind) String() string {
	switch k {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Status is a Worker's current lifecycle state. Attempt is only meaningful
// when Kind is StatusReconnecting; Error only when Kind is StatusFailed.
type Status struct {
	Kind    StatusKind
	Attempt int
	Error   string
}

// Conn is the transport a Worker drives. internal/wsclient.Client satisfies
// this; tests substitute a fake to exercise reconnection without a socket.
type Conn interface {
	Connect(ctx context.Context, assetIDs []string) error
	Messages() <-chan types.ParsedEvent
	Err() error
	Disconnect() error
}

// Dialer produces a fresh Conn for each connection attempt. A Worker never
// reuses a Conn across attempts, mirroring the transport's single-attempt
// contract.
type Dialer func() Conn

// Hydrator pre-warms a worker's book from a REST snapshot ahead of the
// first WebSocket book event, so a consumer calling GetOrderBook right
// after a (re)connect sees real levels instead of an empty book.
// internal/clob.Client satisfies this.
type Hydrator interface {
	GetOrderBook(ctx context.Context, assetID string) (*types.BookResponse, error)
}

// Config controls a Worker's reconnection policy and event handling.
type Config struct {
	AutoReconnect        bool
	ReconnectDelayMS     int64
	MaxReconnectDelayMS  int64
	MaxReconnectAttempts int
	EventBufferSize      int
	SkipHashVerification bool
	QuietHashMismatch    bool
}

// Stats reports cumulative counters for a Worker, for StreamingService
// aggregation and diagnostics.
type Stats struct {
	EventsProcessed      uint64
	LastActivity         time.Time
	ConnectionErrors     uint64
	ReconnectionAttempts uint64
	UptimeStart          time.Time
	LastError            string
}

type lastTrade struct {
	price     decimal.Decimal
	timestamp string
}

// Worker owns one WebSocket connection's worth of assigned asset IDs, their
// order books, and a bounded broadcast of parsed events.
type Worker struct {
	id       int
	config   Config
	dial     Dialer
	hydrator Hydrator
	logger   *slog.Logger

	mu      sync.Mutex
	status  Status
	tokens  map[string]bool
	stats   Stats
	cancel  context.CancelFunc
	running sync.WaitGroup

	books *shardmap.Map[*book.Book]

	tradesMu sync.RWMutex
	trades   map[string]lastTrade

	hub *broadcast.Hub[types.ParsedEvent]
}

// New creates a Worker with the given numeric ID. dial is invoked once per
// connection attempt to obtain a fresh Conn.
func New(id int, cfg Config, dial Dialer, logger *slog.Logger) *Worker {
	return &Worker{
		id:     id,
		config: cfg,
		dial:   dial,
		logger: logger.With("component", "worker", "worker_id", id),
		status: Status{Kind: StatusStopped},
		tokens: make(map[string]bool),
		books:  shardmap.New[*book.Book](),
		trades: make(map[string]lastTrade),
		hub:    broadcast.New[types.ParsedEvent](cfg.EventBufferSize),
	}
}

// ID returns this worker's identifier.
func (w *Worker) ID() int { return w.id }

// SetHydrator installs a Hydrator that pre-warms each assigned token's book
// from a REST snapshot immediately after connecting, before the first
// WebSocket book event is read. Nil (the default) disables pre-warming;
// books then populate from the WS feed alone.
func (w *Worker) SetHydrator(h Hydrator) {
	w.mu.Lock()
	w.hydrator = h
	w.mu.Unlock()
}

// Start assigns tokens and begins streaming. With an empty token set the
// worker transitions straight to Connected without opening a socket, ready
// for a later UpdateTokens to bring it online.
func (w *Worker) Start(tokens []string) error {
	w.mu.Lock()
	w.tokens = toSet(tokens)
	w.stats.UptimeStart = time.Now()
	w.mu.Unlock()

	if len(tokens) == 0 {
		w.setStatus(Status{Kind: StatusConnected})
		w.logger.Info("worker started with no tokens, ready for assignment")
		return nil
	}

	w.setStatus(Status{Kind: StatusStarting})

	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.running.Add(1)
	go func() {
		defer w.running.Done()
		w.runLoop(ctx, tokens)
	}()

	return nil
}

// Stop cancels the run loop, if any, waits for it to exit, and marks the
// worker Stopped. A no-op on an already-stopped worker.
func (w *Worker) Stop() {
	if w.GetStatus().Kind == StatusStopped {
		return
	}

	w.setStatus(Status{Kind: StatusStopping})

	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.running.Wait()

	w.setStatus(Status{Kind: StatusStopped})
	w.logger.Info("worker stopped")
}

// UpdateTokens replaces the assigned token set. Tokens dropped from the set
// have their order books discarded. If the worker is currently connected it
// restarts with the new set; otherwise the new set takes effect on the next
// Start.
func (w *Worker) UpdateTokens(tokens []string) error {
	newSet := toSet(tokens)

	w.mu.Lock()
	oldSet := w.tokens
	w.tokens = newSet
	connected := w.status.Kind == StatusConnected
	w.mu.Unlock()

	for assetID := range oldSet {
		if !newSet[assetID] {
			w.books.Delete(assetID)
		}
	}

	w.logger.Info("updating worker tokens", "from", len(oldSet), "to", len(newSet))

	if connected {
		w.Stop()
		return w.Start(tokens)
	}
	return nil
}

// GetStatus returns the worker's current lifecycle state.
func (w *Worker) GetStatus() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// GetAssignedTokens returns the worker's currently assigned asset IDs.
func (w *Worker) GetAssignedTokens() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.tokens))
	for id := range w.tokens {
		out = append(out, id)
	}
	return out
}

// GetStats returns a snapshot of the worker's counters.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// SubscribeEvents returns a new subscription to this worker's broadcast of
// parsed events.
func (w *Worker) SubscribeEvents() *broadcast.Subscription[types.ParsedEvent] {
	return w.hub.Subscribe()
}

// GetOrderBook returns the book for an asset this worker owns, if any.
func (w *Worker) GetOrderBook(assetID string) (*book.Book, bool) {
	return w.books.Get(assetID)
}

// GetLastTradePrice returns the last reported trade price and timestamp for
// an asset, if any.
func (w *Worker) GetLastTradePrice(assetID string) (decimal.Decimal, string, bool) {
	w.tradesMu.RLock()
	defer w.tradesMu.RUnlock()
	t, ok := w.trades[assetID]
	if !ok {
		return decimal.Decimal{}, "", false
	}
	return t.price, t.timestamp, true
}

func (w *Worker) setStatus(s Status) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// runLoop owns reconnection: it repeatedly connects and streams until ctx is
// cancelled (normal shutdown), a non-recoverable error occurs, or the
// attempt budget is exhausted.
func (w *Worker) runLoop(ctx context.Context, tokens []string) {
	w.logger.Info("worker task started", "tokens", len(tokens))

	attempt := 0
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker received shutdown signal")
			return
		}

		err := w.connectAndStream(ctx, tokens, func() { attempt = 0 })
		if err == nil {
			w.logger.Info("worker connection closed normally")
			return
		}

		w.mu.Lock()
		w.stats.ConnectionErrors++
		w.stats.LastError = err.Error()
		w.mu.Unlock()

		rateLimited := strings.Contains(err.Error(), "429") || strings.Contains(err.Error(), "Too Many Requests")

		if !w.config.AutoReconnect || attempt >= w.config.MaxReconnectAttempts {
			w.logger.Error("worker giving up", "attempts", attempt, "error", err)
			w.setStatus(Status{Kind: StatusFailed, Error: err.Error()})
			return
		}

		attempt++
		w.setStatus(Status{Kind: StatusReconnecting, Attempt: attempt})
		w.mu.Lock()
		w.stats.ReconnectionAttempts++
		w.mu.Unlock()

		delay := w.backoff(attempt, rateLimited)
		w.logger.Warn("worker reconnecting", "attempt", attempt, "delay_ms", delay.Milliseconds(), "rate_limited", rateLimited)

		select {
		case <-ctx.Done():
			w.logger.Info("worker shutdown during reconnect wait")
			return
		case <-time.After(delay):
		}
	}
}

// backoff computes the reconnect delay for the given attempt number,
// distinguishing rate-limit errors (longer base delay, larger jitter) from
// ordinary connection failures.
func (w *Worker) backoff(attempt int, rateLimited bool) time.Duration {
	base := w.config.ReconnectDelayMS
	maxMS := w.config.MaxReconnectDelayMS

	if rateLimited {
		raw := base * pow(3, attempt-1)
		if raw < 5000 {
			raw = 5000
		}
		if raw > maxMS {
			raw = maxMS
		}
		jitter := rand.Int63n(2000)
		return time.Duration(raw+jitter) * time.Millisecond
	}

	raw := base * pow(2, attempt-1)
	if raw > maxMS {
		raw = maxMS
	}
	jitter := rand.Int63n(500)
	return time.Duration(raw+jitter) * time.Millisecond
}

func pow(base int64, exp int) int64 {
	if exp <= 0 {
		return 1
	}
	result := int64(1)
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// connectAndStream dials a fresh Conn, subscribes to tokens, and processes
// messages until the connection drops or ctx is cancelled. onConnected is
// invoked once the connection succeeds, before the first message is read,
// so the caller can reset its reconnect-attempt counter. Returns nil on a
// clean shutdown (ctx cancellation), or the error that ended the stream.
func (w *Worker) connectAndStream(ctx context.Context, tokens []string, onConnected func()) error {
	conn := w.dial()
	if err := conn.Connect(ctx, tokens); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Disconnect()

	onConnected()
	w.setStatus(Status{Kind: StatusConnected})
	w.logger.Info("worker connected", "tokens", len(tokens))

	w.mu.Lock()
	hydrator := w.hydrator
	w.mu.Unlock()
	if hydrator != nil {
		w.hydrateBooks(ctx, hydrator, tokens)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-conn.Messages():
			if !ok {
				if err := conn.Err(); err != nil {
					return err
				}
				return fmt.Errorf("connection closed")
			}
			w.handleEvent(evt)
		}
	}
}

// handleEvent applies a parsed event's state mutation (if any) and then
// broadcasts it to local subscribers.
func (w *Worker) handleEvent(evt types.ParsedEvent) {
	switch evt.Kind {
	case types.EventBook:
		w.applyBookSnapshot(evt.Book)
	case types.EventPriceChange:
		w.applyPriceChange(evt.PriceChange)
	case types.EventLastTradePrice:
		w.recordLastTradePrice(evt.LastTradePrice)
	case types.EventTickSize:
		w.applyTickSize(evt.TickSize)
	case types.EventTrade, types.EventOrder, types.EventMarketStatus, types.EventUnknown:
		// No local state to mutate.
	}

	w.hub.Publish(evt)

	w.mu.Lock()
	w.stats.EventsProcessed++
	w.stats.LastActivity = time.Now()
	w.mu.Unlock()
}

// hydrateBooks pre-warms each token's book from a REST snapshot right after
// connecting. A later WS "book" event still replaces whatever this seeds,
// so a hydration failure here is non-fatal — it just leaves that asset's
// book empty until the first WS snapshot arrives, same as with no hydrator.
func (w *Worker) hydrateBooks(ctx context.Context, hydrator Hydrator, tokens []string) {
	for _, assetID := range tokens {
		resp, err := hydrator.GetOrderBook(ctx, assetID)
		if err != nil {
			w.logger.Warn("snapshot hydration failed", "asset_id", assetID, "error", err)
			continue
		}

		b := w.getOrCreateBook(assetID)
		if w.config.SkipHashVerification {
			b.ReplaceWithSnapshotNoHash(resp.Bids, resp.Asks)
			continue
		}
		if err := b.ReplaceWithSnapshot(resp.Bids, resp.Asks, resp.Hash); err != nil {
			var mismatch *book.HashMismatchError
			if !w.config.QuietHashMismatch || !errors.As(err, &mismatch) {
				w.logger.Warn("snapshot hydration hash mismatch", "asset_id", assetID, "error", err)
			}
			b.ReplaceWithSnapshotNoHash(resp.Bids, resp.Asks)
		}
	}
	w.logger.Debug("snapshot hydration complete", "tokens", len(tokens))
}

func (w *Worker) getOrCreateBook(assetID string) *book.Book {
	return w.books.GetOrCreate(assetID, func() *book.Book { return book.New(assetID) })
}

func (w *Worker) applyBookSnapshot(evt *types.WSBookEvent) {
	if evt == nil {
		return
	}
	b := w.getOrCreateBook(evt.AssetID)

	if w.config.SkipHashVerification {
		b.ReplaceWithSnapshotNoHash(evt.Bids, evt.Asks)
		w.logger.Debug("book snapshot applied without hash verification", "asset_id", evt.AssetID)
		return
	}

	if err := b.ReplaceWithSnapshot(evt.Bids, evt.Asks, evt.Hash); err != nil {
		var mismatch *book.HashMismatchError
		if !w.config.QuietHashMismatch || !errors.As(err, &mismatch) {
			w.logger.Warn("book snapshot hash mismatch", "asset_id", evt.AssetID, "error", err)
		}
		b.ReplaceWithSnapshotNoHash(evt.Bids, evt.Asks)
		return
	}
	w.logger.Debug("book snapshot applied", "asset_id", evt.AssetID)
}

// applyPriceChange applies a single changed level to the book it belongs
// to. Called once per level in a price_change frame — never once per frame.
func (w *Worker) applyPriceChange(change *types.WSPriceChange) {
	if change == nil {
		return
	}
	b, ok := w.GetOrderBook(change.AssetID)
	if !ok {
		return
	}
	price, err := decimal.NewFromString(change.Price)
	if err != nil {
		w.logger.Warn("price change with unparseable price", "asset_id", change.AssetID, "price", change.Price)
		return
	}
	size, err := decimal.NewFromString(change.Size)
	if err != nil {
		w.logger.Warn("price change with unparseable size", "asset_id", change.AssetID, "size", change.Size)
		return
	}
	b.ApplyPriceChangeNoHash(types.Side(change.Side), price, size)
}

func (w *Worker) recordLastTradePrice(evt *types.WSLastTradePriceEvent) {
	if evt == nil {
		return
	}
	price, err := decimal.NewFromString(evt.Price)
	if err != nil {
		w.logger.Warn("last trade price unparseable", "asset_id", evt.AssetID, "price", evt.Price)
		return
	}
	w.tradesMu.Lock()
	w.trades[evt.AssetID] = lastTrade{price: price, timestamp: evt.Timestamp}
	w.tradesMu.Unlock()
}

func (w *Worker) applyTickSize(evt *types.WSTickSizeChangeEvent) {
	if evt == nil {
		return
	}
	tick, err := decimal.NewFromString(evt.NewSize)
	if err != nil {
		w.logger.Warn("tick size change unparseable", "asset_id", evt.AssetID, "new_tick_size", evt.NewSize)
		return
	}
	w.getOrCreateBook(evt.AssetID).SetTickSize(tick)
}
