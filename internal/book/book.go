// Package book maintains a single asset's order book and implements the
// Polymarket-compatible SHA-1 hash used to detect divergence between the
// local mirror and the upstream feed.
package book

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"polystream/pkg/types"
)

// HashMismatchError reports that a computed book hash did not match the
// hash the upstream feed asserted. The book is still mutated when this is
// returned — callers decide whether to fall back to an unverified apply.
type HashMismatchError struct {
	AssetID  string
	Expected string
	Computed string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("book %s: hash mismatch: expected %s, computed %s", e.AssetID, e.Expected, e.Computed)
}

// orderSummary is one aggregated price level as it appears in the canonical
// JSON that gets hashed. Size is always an integer string: Polymarket's hash
// truncates fractional size toward zero.
type orderSummary struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func newOrderSummary(price, size decimal.Decimal) orderSummary {
	return orderSummary{
		Price: price.String(),
		Size:  size.Truncate(0).String(),
	}
}

// priceNum parses Price for numeric sorting. A leading "." is treated as
// shorthand for "0." — it does not change the stored string, only how it
// sorts.
func (s orderSummary) priceNum() float64 {
	p := s.Price
	if strings.HasPrefix(p, ".") {
		p = "0" + p
	}
	f, err := strconv.ParseFloat(p, 64)
	if err != nil {
		return 0
	}
	return f
}

// canonicalBook is the exact shape serialized before hashing. Field order
// matters: bids must be encoded before asks.
type canonicalBook struct {
	Bids []orderSummary `json:"bids"`
	Asks []orderSummary `json:"asks"`
}

func (c canonicalBook) hash() string {
	// Non-nil slices so an empty side encodes as [] rather than null.
	bids := append(make([]orderSummary, 0, len(c.Bids)), c.Bids...)
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].priceNum() > bids[j].priceNum() })

	asks := append(make([]orderSummary, 0, len(c.Asks)), c.Asks...)
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].priceNum() < asks[j].priceNum() })

	canonical := canonicalBook{Bids: bids, Asks: asks}
	data, err := json.Marshal(canonical)
	if err != nil {
		// canonicalBook only contains strings, this cannot fail.
		panic(fmt.Sprintf("marshal canonical order book: %v", err))
	}

	sum := sha1.Sum(data)
	return fmt.Sprintf("%x", sum)
}

// Book is a single asset's level-2 order book, protected by its own lock so
// a Worker can read it concurrently with other workers' books.
type Book struct {
	assetID string

	mu       sync.RWMutex
	bids     map[string]decimal.Decimal // canonical price string -> size
	asks     map[string]decimal.Decimal
	lastHash string // last hash successfully verified; empty if none yet
	tickSize *decimal.Decimal
}

// New creates an empty book for the given asset.
func New(assetID string) *Book {
	return &Book{
		assetID: assetID,
		bids:    make(map[string]decimal.Decimal),
		asks:    make(map[string]decimal.Decimal),
	}
}

// AssetID returns the asset this book tracks.
func (b *Book) AssetID() string { return b.assetID }

// ReplaceWithSnapshot clears the book and inserts the given levels, then
// verifies the computed hash against the one the feed asserted. The book is
// mutated regardless of the outcome; LastHash is only updated on success.
func (b *Book) ReplaceWithSnapshot(bids, asks []types.PriceLevel, hash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.replaceLocked(bids, asks)
	computed := b.computeHashLocked()
	if computed != hash {
		return &HashMismatchError{AssetID: b.assetID, Expected: hash, Computed: computed}
	}
	b.lastHash = hash
	return nil
}

// ReplaceWithSnapshotNoHash clears the book and inserts the given levels
// without verifying any hash. LastHash is left untouched — it always
// reflects the last hash that was actually verified, never a guess.
func (b *Book) ReplaceWithSnapshotNoHash(bids, asks []types.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replaceLocked(bids, asks)
}

func (b *Book) replaceLocked(bids, asks []types.PriceLevel) {
	newBids := make(map[string]decimal.Decimal, len(bids))
	for _, lvl := range bids {
		price, perr := decimal.NewFromString(lvl.Price)
		size, serr := decimal.NewFromString(lvl.Size)
		if perr != nil || serr != nil || !size.IsPositive() {
			continue
		}
		newBids[price.String()] = size
	}

	newAsks := make(map[string]decimal.Decimal, len(asks))
	for _, lvl := range asks {
		price, perr := decimal.NewFromString(lvl.Price)
		size, serr := decimal.NewFromString(lvl.Size)
		if perr != nil || serr != nil || !size.IsPositive() {
			continue
		}
		newAsks[price.String()] = size
	}

	b.bids = newBids
	b.asks = newAsks
}

// ApplyPriceChange adds, updates, or removes (size zero) a single level,
// then verifies the resulting hash. The level change is applied regardless
// of the outcome; LastHash is only updated on success.
func (b *Book) ApplyPriceChange(side types.Side, price, size decimal.Decimal, expectedHash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.applyPriceChangeLocked(side, price, size)
	computed := b.computeHashLocked()
	if computed != expectedHash {
		return &HashMismatchError{AssetID: b.assetID, Expected: expectedHash, Computed: computed}
	}
	b.lastHash = expectedHash
	return nil
}

// ApplyPriceChangeNoHash applies a single level change without verification.
func (b *Book) ApplyPriceChangeNoHash(side types.Side, price, size decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyPriceChangeLocked(side, price, size)
}

func (b *Book) applyPriceChangeLocked(side types.Side, price, size decimal.Decimal) {
	key := price.String()
	levels := b.bids
	if side == types.SideSell {
		levels = b.asks
	}

	if size.IsZero() {
		delete(levels, key)
		return
	}
	levels[key] = size
}

// SetTickSize records the asset's tick size.
func (b *Book) SetTickSize(tick decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickSize = &tick
}

// TickSize returns the asset's tick size, if known.
func (b *Book) TickSize() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.tickSize == nil {
		return decimal.Decimal{}, false
	}
	return *b.tickSize, true
}

// LastHash returns the last hash this book successfully verified against,
// or "" if it has never passed verification.
func (b *Book) LastHash() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastHash
}

// Bids returns bid levels sorted descending by price (best bid first).
func (b *Book) Bids() []types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedLevels(b.bids, true)
}

// Asks returns ask levels sorted ascending by price (best ask first).
func (b *Book) Asks() []types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedLevels(b.asks, false)
}

func sortedLevels(m map[string]decimal.Decimal, descending bool) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(m))
	for price, size := range m {
		out = append(out, types.PriceLevel{Price: price, Size: size.String()})
	}
	sort.Slice(out, func(i, j int) bool {
		pi, _ := decimal.NewFromString(out[i].Price)
		pj, _ := decimal.NewFromString(out[j].Price)
		if descending {
			return pi.GreaterThan(pj)
		}
		return pi.LessThan(pj)
	})
	return out
}

// BestBid returns the highest bid, if any.
func (b *Book) BestBid() (types.PriceLevel, bool) {
	bids := b.Bids()
	if len(bids) == 0 {
		return types.PriceLevel{}, false
	}
	return bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (b *Book) BestAsk() (types.PriceLevel, bool) {
	asks := b.Asks()
	if len(asks) == 0 {
		return types.PriceLevel{}, false
	}
	return asks[0], true
}

// Spread returns BestAsk - BestBid, if both sides are present.
func (b *Book) Spread() (decimal.Decimal, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return decimal.Decimal{}, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return decimal.Decimal{}, false
	}
	bidPrice, _ := decimal.NewFromString(bid.Price)
	askPrice, _ := decimal.NewFromString(ask.Price)
	return askPrice.Sub(bidPrice), true
}

// IsEmpty reports whether the book has no bid or ask levels.
func (b *Book) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bids) == 0 && len(b.asks) == 0
}

// Summary renders a short human-readable line for logs.
func (b *Book) Summary() string {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	switch {
	case hasBid && hasAsk:
		return fmt.Sprintf("%s: bid %s (%s), ask %s (%s)", b.assetID, bid.Price, bid.Size, ask.Price, ask.Size)
	case hasBid:
		return fmt.Sprintf("%s: bid %s (%s), no asks", b.assetID, bid.Price, bid.Size)
	case hasAsk:
		return fmt.Sprintf("%s: ask %s (%s), no bids", b.assetID, ask.Price, ask.Size)
	default:
		return fmt.Sprintf("%s: empty order book", b.assetID)
	}
}

// ValidateAndClean repairs a crossed book (best bid >= best ask) by removing
// all bids at or above the best ask, then all asks at or below the new best
// bid. Reports whether any repair was performed; idempotent.
func (b *Book) ValidateAndClean() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	bestBid, hasBid := bestPrice(b.bids, true)
	bestAsk, hasAsk := bestPrice(b.asks, false)
	if !hasBid || !hasAsk || bestBid.LessThan(bestAsk) {
		return false
	}

	for key := range b.bids {
		price, _ := decimal.NewFromString(key)
		if price.GreaterThanOrEqual(bestAsk) {
			delete(b.bids, key)
		}
	}

	newBestBid, hasNewBid := bestPrice(b.bids, true)
	if hasNewBid {
		for key := range b.asks {
			price, _ := decimal.NewFromString(key)
			if price.LessThanOrEqual(newBestBid) {
				delete(b.asks, key)
			}
		}
	}

	return true
}

func bestPrice(m map[string]decimal.Decimal, highest bool) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for key := range m {
		price, err := decimal.NewFromString(key)
		if err != nil {
			continue
		}
		if !found {
			best = price
			found = true
			continue
		}
		if highest && price.GreaterThan(best) {
			best = price
		} else if !highest && price.LessThan(best) {
			best = price
		}
	}
	return best, found
}

// ComputeHash returns the Polymarket-compatible SHA-1 hash of the book's
// current state.
func (b *Book) ComputeHash() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.computeHashLocked()
}

func (b *Book) computeHashLocked() string {
	bids := make([]orderSummary, 0, len(b.bids))
	for key, size := range b.bids {
		price, _ := decimal.NewFromString(key)
		bids = append(bids, newOrderSummary(price, size))
	}
	asks := make([]orderSummary, 0, len(b.asks))
	for key, size := range b.asks {
		price, _ := decimal.NewFromString(key)
		asks = append(asks, newOrderSummary(price, size))
	}
	return canonicalBook{Bids: bids, Asks: asks}.hash()
}
