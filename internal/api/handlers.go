package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"polystream/internal/broadcast"
	"polystream/internal/streaming"
	"polystream/pkg/types"
)

// StreamingProvider is the narrow surface Handlers needs from the
// streaming service, kept as an interface so tests can inject a fake
// rather than stand up a full Service.
type StreamingProvider interface {
	GetStreamingTokens() []string
	GetOrderBook(assetID string) (types.OrderBookSnapshot, bool)
	GetLastTradePrice(assetID string) (decimal.Decimal, string, bool)
	GetStats() streaming.Stats
	GetWorkerStatuses() []streaming.WorkerStatusInfo
	SubscribeEvents() *broadcast.Subscription[types.ParsedEvent]
}

// Handlers holds every HTTP handler's dependencies.
type Handlers struct {
	provider StreamingProvider
	hub      *Hub
	logger   *slog.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(provider StreamingProvider, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider: provider,
		hub:      hub,
		logger:   logger.With("component", "api-handlers"),
	}
}

// HandleHealth returns a simple liveness response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// HandleTokens lists every asset ID currently being streamed.
func (h *Handlers) HandleTokens(w http.ResponseWriter, r *http.Request) {
	tokens := h.provider.GetStreamingTokens()
	respondJSON(w, TokensResponse{Tokens: tokens, Count: len(tokens)})
}

// HandleOrderBook returns the current order book snapshot for one asset.
func (h *Handlers) HandleOrderBook(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["assetID"]

	snap, ok := h.provider.GetOrderBook(assetID)
	if !ok {
		respondError(w, http.StatusNotFound, "book not found", "asset is not currently streamed")
		return
	}
	respondJSON(w, snap)
}

// HandleLastTradePrice returns the most recent trade price for one asset.
func (h *Handlers) HandleLastTradePrice(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["assetID"]

	price, timestamp, ok := h.provider.GetLastTradePrice(assetID)
	if !ok {
		respondError(w, http.StatusNotFound, "last trade price not found", "no trade observed yet for this asset")
		return
	}
	respondJSON(w, LastTradePriceResponse{AssetID: assetID, Price: price.String(), Timestamp: timestamp})
}

// HandleStats reports aggregate counters across every running worker.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StatsResponse(h.provider.GetStats()))
}

// HandleWorkers reports every worker's lifecycle state.
func (h *Handlers) HandleWorkers(w http.ResponseWriter, r *http.Request) {
	statuses := h.provider.GetWorkerStatuses()
	out := make([]WorkerStatusResponse, len(statuses))
	for i, s := range statuses {
		out[i] = WorkerStatusResponse(s)
	}
	respondJSON(w, out)
}

// HandleWebSocket upgrades the connection and streams aggregated events to
// the new client.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sub := h.provider.SubscribeEvents()
	NewClient(h.hub, conn, sub, h.logger)
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}
