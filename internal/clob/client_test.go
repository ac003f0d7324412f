package clob

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polystream/pkg/types"
)

func TestGetOrderBookReturnsDecodedSnapshot(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token_id"); got != "a1" {
			t.Errorf("token_id = %q, want a1", got)
		}
		json.NewEncoder(w).Encode(types.BookResponse{
			AssetID: "a1",
			Bids:    []types.PriceLevel{{Price: "0.4", Size: "10"}},
			Asks:    []types.PriceLevel{{Price: "0.6", Size: "5"}},
			Hash:    "abc123",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	book, err := c.GetOrderBook(context.Background(), "a1")
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if book.AssetID != "a1" || book.Hash != "abc123" || len(book.Bids) != 1 {
		t.Errorf("unexpected book: %+v", book)
	}
}

func TestGetOrderBookReturnsErrorOnNon200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("unknown asset"))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	if _, err := c.GetOrderBook(context.Background(), "missing"); err == nil {
		t.Error("expected an error for a 404 response")
	}
}

func TestGetOrderBookRetriesOn5xx(t *testing.T) {
	t.Parallel()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(types.BookResponse{AssetID: "a1"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	c.http.SetRetryWaitTime(1 * time.Millisecond).SetRetryMaxWaitTime(2 * time.Millisecond)

	book, err := c.GetOrderBook(context.Background(), "a1")
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if attempts < 2 {
		t.Errorf("attempts = %d, want at least 2", attempts)
	}
	if book.AssetID != "a1" {
		t.Errorf("unexpected book: %+v", book)
	}
}
