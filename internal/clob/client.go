// Package clob implements a thin REST client for the upstream order-book
// snapshot endpoint, used to pre-warm a worker's book immediately after it
// connects, ahead of the first WebSocket book event. Order placement and
// cancellation are out of scope; this client only ever reads.
package clob

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"polystream/internal/auth"
	"polystream/pkg/types"
)

// Client is a rate-limited, retrying REST client for the order-book
// snapshot endpoint.
type Client struct {
	http *resty.Client
	auth *auth.Auth // may be nil: book reads need no authentication
	rl   *RateLimiter
}

// New creates a Client pointed at baseURL. a may be nil since GetOrderBook
// is an unauthenticated read; it's accepted so a future authenticated
// endpoint can be added to this client without changing its construction.
func New(baseURL string, a *auth.Auth) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http: httpClient,
		auth: a,
		rl:   NewRateLimiter(),
	}
}

// GetOrderBook fetches the current order book snapshot for a single asset.
func (c *Client) GetOrderBook(ctx context.Context, assetID string) (*types.BookResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", assetID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}
