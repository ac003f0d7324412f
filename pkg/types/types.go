// Package types defines the shared vocabulary used across all packages:
// price levels, order book snapshots, parsed event variants, and the wire
// messages exchanged with the upstream WebSocket feed. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a book level or trade: BUY or SELL.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
// Price and Size are strings, matching the upstream feed's wire format,
// which preserves decimal precision that a float would lose.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// OrderBookSnapshot is a point-in-time view of one asset's order book,
// as received from the feed (full snapshot) or exported for a consumer.
type OrderBookSnapshot struct {
	AssetID   string       `json:"asset_id"`
	Bids      []PriceLevel `json:"bids"` // sorted descending by price (best bid first)
	Asks      []PriceLevel `json:"asks"` // sorted ascending by price (best ask first)
	Hash      string       `json:"hash,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// BookResponse is the REST response from GET /book for a single asset,
// used to hydrate a book ahead of the first WebSocket event.
type BookResponse struct {
	Market    string       `json:"market"`
	AssetID   string       `json:"asset_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Hash      string       `json:"hash"`
	Timestamp string       `json:"timestamp"`
	TickSize  string       `json:"tick_size"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket wire messages
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON messages sent over the upstream
// WebSocket. Market channel events: "book" (full snapshot), "price_change"
// (delta), "last_trade_price" (informational). User channel events:
// "trade" (fill), "order" (lifecycle).

// WSBookEvent is a full order book snapshot from the market WS channel.
// Replaces the entire local book for the given asset.
type WSBookEvent struct {
	EventType string       `json:"event_type"` // always "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// WSPriceChange is a single price level update within a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"` // the price level that changed
	Size    string `json:"size"`  // new size at that level (0 = removed)
	Side    string `json:"side"`  // "BUY" or "SELL"
	Hash    string `json:"hash"`  // updated book hash (advisory, not verified)
	BestBid string `json:"best_bid,omitempty"`
	BestAsk string `json:"best_ask,omitempty"`
}

// WSPriceChangeEvent is an incremental order book update from the market WS.
// Contains one or more level changes; the parser splits them into one
// ParsedEvent per level, and each level is applied to the book on its own.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // always "price_change"
	Market       string          `json:"market"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSLastTradePriceEvent reports the most recent trade price for an asset.
// Informational — it does not mutate order book state.
type WSLastTradePriceEvent struct {
	EventType string `json:"event_type"` // always "last_trade_price"
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

// WSTickSizeChangeEvent notifies that an asset's tick size changed.
// The worker records NewSize as the tick size of the asset's book.
type WSTickSizeChangeEvent struct {
	EventType string `json:"event_type"` // always "tick_size_change"
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	OldSize   string `json:"old_tick_size"`
	NewSize   string `json:"new_tick_size"`
	Timestamp string `json:"timestamp"`
}

// WSMarketStatusEvent reports a market's lifecycle status change (e.g.
// resolution). Informational — does not mutate order book state.
type WSMarketStatusEvent struct {
	EventType string `json:"event_type"` // "market_resolved"
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Status    string `json:"status"` // "active", "closed", "resolved", "paused"
	Timestamp string `json:"timestamp"`
}

// WSTradeEvent is a fill notification from the user WS channel.
type WSTradeEvent struct {
	EventType string `json:"event_type"` // always "trade"
	ID        string `json:"id"`
	Market    string `json:"market"`
	AssetID   string `json:"asset_id"`
	Side      string `json:"side"`
	Size      string `json:"size"`
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
}

// WSOrderEvent is an order lifecycle notification from the user WS channel.
type WSOrderEvent struct {
	EventType    string `json:"event_type"` // always "order"
	ID           string `json:"id"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Owner        string `json:"owner"`
	Timestamp    string `json:"timestamp"`
	Type         string `json:"type"` // "PLACEMENT", "UPDATE", "CANCELLATION"
}

// WSSubscribeMsg is the initial subscription message sent when connecting
// to a WebSocket channel. For the user channel, Auth must be provided.
type WSSubscribeMsg struct {
	Auth     *WSAuth  `json:"auth,omitempty"`
	Type     string   `json:"type"`                 // "market" or "user"
	Markets  []string `json:"markets,omitempty"`     // condition IDs (user channel)
	AssetIDs []string `json:"assets_ids,omitempty"`  // asset IDs (market channel)
}

// WSAuth contains the L2 API credentials for authenticating the user WS channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSUpdateMsg is sent to dynamically subscribe or unsubscribe from assets
// after the initial connection is established.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"`
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
}

// ————————————————————————————————————————————————————————————————————————
// Parsed events
// ————————————————————————————————————————————————————————————————————————

// ParsedEventKind tags the variant carried by a ParsedEvent.
type ParsedEventKind int

const (
	EventBook ParsedEventKind = iota
	EventPriceChange
	EventTrade
	EventOrder
	EventLastTradePrice
	EventTickSize
	EventMarketStatus
	EventUnknown
)

// ParsedEvent is the MessageParser's output: a single typed event decoded
// from a raw WebSocket frame, tagged by Kind so the worker can switch on it
// without a type assertion on every branch. A price_change frame carrying
// several changed levels yields one ParsedEvent per level, each tagged
// EventPriceChange with its own singular PriceChange — never one event
// bundling the whole frame.
type ParsedEvent struct {
	Kind           ParsedEventKind
	Book           *WSBookEvent
	PriceChange    *WSPriceChange
	Trade          *WSTradeEvent
	Order          *WSOrderEvent
	LastTradePrice *WSLastTradePriceEvent
	TickSize       *WSTickSizeChangeEvent
	MarketStatus   *WSMarketStatusEvent
	RawTag         string // the original event_type tag, kept for logging unknowns
}

// ————————————————————————————————————————————————————————————————————————
// Distribution
// ————————————————————————————————————————————————————————————————————————

// DistributionUpdate captures the result of adding or removing assets from
// a TokenDistributor: which workers need which assets added or removed, and
// which workers should be torn down entirely because they're now empty.
type DistributionUpdate struct {
	WorkersToAdd      map[int][]string
	WorkersToRemove   map[int][]string
	WorkersToShutdown []int
}

// HasChanges reports whether this update describes any change at all.
func (u DistributionUpdate) HasChanges() bool {
	return len(u.WorkersToAdd) > 0 || len(u.WorkersToRemove) > 0 || len(u.WorkersToShutdown) > 0
}

// DistributionSummary is a point-in-time report of how assets are spread
// across workers, used for diagnostics and the consumer-facing API.
type DistributionSummary struct {
	TotalWorkers       int          `json:"total_workers"`
	TotalAssets        int          `json:"total_assets"`
	MaxAssetsPerWorker int          `json:"max_assets_per_worker"`
	Workers            []WorkerInfo `json:"workers"`
}

// WorkerInfo reports the assets assigned to a single worker.
type WorkerInfo struct {
	WorkerID   int      `json:"worker_id"`
	AssetCount int      `json:"asset_count"`
	Assets     []string `json:"assets"`
}

// ————————————————————————————————————————————————————————————————————————
// External collaborator interfaces
// ————————————————————————————————————————————————————————————————————————
//
// PositionDelta and MarketCatalogLookup describe what a portfolio
// reconciler or a market catalog would need to consume from this service.
// Neither has an implementation here: this package only specifies the
// shape, the same way the core exposes StreamingService.GetOrderBook and
// SubscribeEvents without knowing who's on the other end of them.

// PositionDelta is one trade's effect on a holder's position in an asset,
// the unit a portfolio reconciler would consume off the aggregated event
// stream to keep an external ledger in sync.
type PositionDelta struct {
	AssetID   string
	Side      string
	SizeDelta string
	Price     string
	Timestamp time.Time
}

// MarketCatalogLookup is what a market catalog needs from the streaming
// core: the set of assets currently being streamed and each one's most
// recent trade price, without the catalog needing to know how either is
// produced.
type MarketCatalogLookup interface {
	GetStreamingTokens() []string
	GetLastTradePrice(assetID string) (decimal.Decimal, string, bool)
}
