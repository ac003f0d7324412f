package api

import (
	"time"

	"polystream/internal/streaming"
)

// ErrorResponse is the JSON body returned for any 4xx/5xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// TokensResponse lists every asset ID currently being streamed.
type TokensResponse struct {
	Tokens []string `json:"tokens"`
	Count  int      `json:"count"`
}

// LastTradePriceResponse reports the most recent trade price for an asset.
type LastTradePriceResponse struct {
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
}

// StatsResponse mirrors streaming.Stats for the REST surface.
type StatsResponse streaming.Stats

// WorkerStatusResponse mirrors streaming.WorkerStatusInfo for the REST
// surface.
type WorkerStatusResponse streaming.WorkerStatusInfo

// WSEnvelope wraps every message sent over the aggregated event WebSocket.
type WSEnvelope struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}
