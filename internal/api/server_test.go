package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"polystream/internal/broadcast"
	"polystream/internal/config"
	"polystream/internal/streaming"
	"polystream/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	tokens  []string
	books   map[string]types.OrderBookSnapshot
	prices  map[string]decimal.Decimal
	stats   streaming.Stats
	workers []streaming.WorkerStatusInfo
	hub     *broadcast.Hub[types.ParsedEvent]
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		books:  make(map[string]types.OrderBookSnapshot),
		prices: make(map[string]decimal.Decimal),
		hub:    broadcast.New[types.ParsedEvent](16),
	}
}

func (f *fakeProvider) GetStreamingTokens() []string { return f.tokens }

func (f *fakeProvider) GetOrderBook(assetID string) (types.OrderBookSnapshot, bool) {
	snap, ok := f.books[assetID]
	return snap, ok
}

func (f *fakeProvider) GetLastTradePrice(assetID string) (decimal.Decimal, string, bool) {
	p, ok := f.prices[assetID]
	return p, "1700000000", ok
}

func (f *fakeProvider) GetStats() streaming.Stats { return f.stats }

func (f *fakeProvider) GetWorkerStatuses() []streaming.WorkerStatusInfo { return f.workers }

func (f *fakeProvider) SubscribeEvents() *broadcast.Subscription[types.ParsedEvent] {
	return f.hub.Subscribe()
}

func newTestServer(t *testing.T, provider *fakeProvider) (*httptest.Server, *Handlers) {
	t.Helper()
	hub := NewHub(testLogger())
	handlers := NewHandlers(provider, hub, testLogger())

	router := mux.NewRouter()
	router.HandleFunc("/health", handlers.HandleHealth)
	router.HandleFunc("/api/v1/tokens", handlers.HandleTokens)
	router.HandleFunc("/api/v1/books/{assetID}", handlers.HandleOrderBook)
	router.HandleFunc("/api/v1/prices/{assetID}", handlers.HandleLastTradePrice)
	router.HandleFunc("/api/v1/stats", handlers.HandleStats)
	router.HandleFunc("/api/v1/workers", handlers.HandleWorkers)
	router.HandleFunc("/ws", handlers.HandleWebSocket)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, handlers
}

func TestHandleTokensReturnsStreamedAssets(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.tokens = []string{"a1", "a2"}
	srv, _ := newTestServer(t, provider)

	resp, err := http.Get(srv.URL + "/api/v1/tokens")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	var out TokensResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 2 {
		t.Errorf("Count = %d, want 2", out.Count)
	}
}

func TestHandleOrderBookReturns404ForUnknownAsset(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	srv, _ := newTestServer(t, provider)

	resp, err := http.Get(srv.URL + "/api/v1/books/missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleOrderBookReturnsSnapshot(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.books["a1"] = types.OrderBookSnapshot{
		AssetID: "a1",
		Bids:    []types.PriceLevel{{Price: "0.4", Size: "5"}},
	}
	srv, _ := newTestServer(t, provider)

	resp, err := http.Get(srv.URL + "/api/v1/books/a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	var snap types.OrderBookSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.AssetID != "a1" || len(snap.Bids) != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestHandleLastTradePriceReturnsPrice(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.prices["a1"] = decimal.NewFromFloat(0.42)
	srv, _ := newTestServer(t, provider)

	resp, err := http.Get(srv.URL + "/api/v1/prices/a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	var out LastTradePriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.AssetID != "a1" || out.Price != "0.42" {
		t.Errorf("unexpected response: %+v", out)
	}
}

func TestHandleWebSocketStreamsAggregatedEvents(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	srv, _ := newTestServer(t, provider)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Give the handler a moment to subscribe before we publish.
	time.Sleep(20 * time.Millisecond)
	provider.hub.Publish(types.ParsedEvent{Kind: types.EventTrade, RawTag: "t1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var envelope WSEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Type != "event" {
		t.Errorf("envelope.Type = %q, want event", envelope.Type)
	}
}

func TestServerHealthEndpoint(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	s := NewServer(config.DashboardConfig{Port: 0}, provider, testLogger())
	router := s.server.Handler

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
