package book

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"polystream/pkg/types"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal.NewFromString(%q): %v", s, err)
	}
	return d
}

func TestOrderSummaryTruncatesSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		size string
		want string
	}{
		{"100.99", "100"},
		{"5639.05", "5639"},
	}

	for _, tt := range tests {
		s := newOrderSummary(mustDecimal(t, "0.48"), mustDecimal(t, tt.size))
		if s.Size != tt.want {
			t.Errorf("newOrderSummary size=%q: got %q, want %q", tt.size, s.Size, tt.want)
		}
	}
}

func TestPriceNumAcceptsLeadingDot(t *testing.T) {
	t.Parallel()

	withDot := orderSummary{Price: ".48", Size: "100"}
	withZero := orderSummary{Price: "0.48", Size: "100"}

	if withDot.priceNum() != 0.48 {
		t.Errorf("priceNum(%q) = %v, want 0.48", withDot.Price, withDot.priceNum())
	}
	if withZero.priceNum() != 0.48 {
		t.Errorf("priceNum(%q) = %v, want 0.48", withZero.Price, withZero.priceNum())
	}
}

func seedBook() *Book {
	b := New("asset-1")
	b.ReplaceWithSnapshotNoHash(
		[]types.PriceLevel{
			{Price: "0.48", Size: "30"},
			{Price: "0.50", Size: "15"},
			{Price: "0.49", Size: "20"},
		},
		[]types.PriceLevel{
			{Price: "0.54", Size: "10"},
			{Price: "0.52", Size: "25"},
			{Price: "0.53", Size: "60"},
		},
	)
	return b
}

func TestHashDeterministicAndFixedLength(t *testing.T) {
	t.Parallel()

	b := seedBook()
	h1 := b.ComputeHash()
	h2 := b.ComputeHash()

	if h1 != h2 {
		t.Errorf("hash not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != 40 {
		t.Errorf("hash length = %d, want 40", len(h1))
	}
}

func TestEmptyBookHashIsDeterministic(t *testing.T) {
	t.Parallel()

	b1 := New("empty-1")
	b2 := New("empty-2")

	h1 := b1.ComputeHash()
	h2 := b2.ComputeHash()

	if h1 != h2 {
		t.Errorf("two freshly-constructed empty books hashed differently: %s != %s", h1, h2)
	}
	if len(h1) != 40 {
		t.Errorf("empty book hash length = %d, want 40", len(h1))
	}
}

func TestOrderBookCreation(t *testing.T) {
	t.Parallel()

	b := New("test_asset")
	if b.AssetID() != "test_asset" {
		t.Errorf("AssetID() = %q, want %q", b.AssetID(), "test_asset")
	}
	if !b.IsEmpty() {
		t.Error("new book should be empty")
	}
	if _, ok := b.BestBid(); ok {
		t.Error("new book should have no best bid")
	}
	if _, ok := b.BestAsk(); ok {
		t.Error("new book should have no best ask")
	}
}

func TestReplaceWithSnapshotVerifiesHash(t *testing.T) {
	t.Parallel()

	bids := []types.PriceLevel{{Price: "0.95", Size: "100"}, {Price: "0.94", Size: "200"}}
	asks := []types.PriceLevel{{Price: "0.96", Size: "150"}, {Price: "0.97", Size: "250"}}

	probe := New("test_asset")
	probe.ReplaceWithSnapshotNoHash(bids, asks)
	expectedHash := probe.ComputeHash()

	b := New("test_asset")
	if err := b.ReplaceWithSnapshot(bids, asks, expectedHash); err != nil {
		t.Fatalf("ReplaceWithSnapshot: %v", err)
	}

	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	if bid.Price != "0.95" {
		t.Errorf("best bid = %s, want 0.95", bid.Price)
	}
	if ask.Price != "0.96" {
		t.Errorf("best ask = %s, want 0.96", ask.Price)
	}
	spread, ok := b.Spread()
	if !ok || !spread.Equal(mustDecimal(t, "0.01")) {
		t.Errorf("spread = %v, want 0.01", spread)
	}
	if b.LastHash() != expectedHash {
		t.Errorf("LastHash() = %q, want %q", b.LastHash(), expectedHash)
	}
}

func TestHashMismatchStillMutatesButNotLastHash(t *testing.T) {
	t.Parallel()

	b := New("test_asset")
	bids := []types.PriceLevel{{Price: "0.95", Size: "100"}}
	asks := []types.PriceLevel{{Price: "0.96", Size: "150"}}

	err := b.ReplaceWithSnapshot(bids, asks, "wrong_hash")
	if err == nil {
		t.Fatal("expected hash mismatch error")
	}
	var mismatch *HashMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *HashMismatchError, got %T", err)
	}

	// The levels are applied regardless of the verification outcome.
	if b.IsEmpty() {
		t.Error("book should be mutated even when hash verification fails")
	}
	// LastHash must not record an unverified hash.
	if b.LastHash() != "" {
		t.Errorf("LastHash() = %q, want empty after mismatch", b.LastHash())
	}
}

func TestApplyPriceChangeUpdateAndRemove(t *testing.T) {
	t.Parallel()

	b := New("test_asset")
	b.ReplaceWithSnapshotNoHash(
		[]types.PriceLevel{{Price: "0.95", Size: "100"}},
		[]types.PriceLevel{{Price: "0.96", Size: "150"}},
	)

	// Update existing bid.
	probe := New("probe")
	probe.ReplaceWithSnapshotNoHash(
		[]types.PriceLevel{{Price: "0.95", Size: "200"}},
		[]types.PriceLevel{{Price: "0.96", Size: "150"}},
	)
	updateHash := probe.ComputeHash()

	if err := b.ApplyPriceChange(types.SideBuy, mustDecimal(t, "0.95"), mustDecimal(t, "200"), updateHash); err != nil {
		t.Fatalf("ApplyPriceChange update: %v", err)
	}
	bid, _ := b.BestBid()
	if bid.Size != "200" {
		t.Errorf("bid size = %s, want 200", bid.Size)
	}

	// Remove the bid entirely (size zero).
	probe2 := New("probe2")
	probe2.ReplaceWithSnapshotNoHash(nil, []types.PriceLevel{{Price: "0.96", Size: "150"}})
	removeHash := probe2.ComputeHash()

	if err := b.ApplyPriceChange(types.SideBuy, mustDecimal(t, "0.95"), decimal.Zero, removeHash); err != nil {
		t.Fatalf("ApplyPriceChange remove: %v", err)
	}
	if _, ok := b.BestBid(); ok {
		t.Error("bid should be removed")
	}
}

func TestValidateAndCleanRepairsCrossedBook(t *testing.T) {
	t.Parallel()

	b := New("test_asset")
	b.ReplaceWithSnapshotNoHash(
		[]types.PriceLevel{
			{Price: "0.50", Size: "10"},
			{Price: "0.55", Size: "20"}, // crosses the 0.52 ask
			{Price: "0.53", Size: "5"},  // crosses the 0.52 ask
		},
		[]types.PriceLevel{
			{Price: "0.52", Size: "30"},
			{Price: "0.60", Size: "40"},
		},
	)

	cleaned := b.ValidateAndClean()
	if !cleaned {
		t.Fatal("expected ValidateAndClean to report a repair")
	}

	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if !hasBid || !hasAsk {
		t.Fatal("book should still have both sides after repair")
	}
	if bid.Price != "0.5" {
		t.Errorf("best bid after repair = %s, want 0.5", bid.Price)
	}
	if ask.Price != "0.52" {
		t.Errorf("best ask after repair = %s, want 0.52", ask.Price)
	}

	// Idempotent: running again makes no further changes and reports false.
	if b.ValidateAndClean() {
		t.Error("ValidateAndClean should be idempotent once the book is clean")
	}
}

func TestValidateAndCleanLeavesUncrossedBookAlone(t *testing.T) {
	t.Parallel()

	b := New("test_asset")
	b.ReplaceWithSnapshotNoHash(
		[]types.PriceLevel{{Price: "0.50", Size: "10"}},
		[]types.PriceLevel{{Price: "0.55", Size: "20"}},
	)

	if b.ValidateAndClean() {
		t.Error("uncrossed book should not be reported as repaired")
	}
}
