package historicalstore

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"polystream/internal/broadcast"
	"polystream/pkg/types"
)

// Recorder subscribes to a streaming service's aggregate event stream and
// persists what it sees: trade fills as activities, last-trade-price marks
// as positions. It is a pure downstream consumer — the streaming core has
// no awareness it exists.
type Recorder struct {
	store  *Store
	sub    *broadcast.Subscription[types.ParsedEvent]
	logger *slog.Logger

	activityCount int
}

// NewRecorder creates a Recorder that will drain sub until its context is
// cancelled.
func NewRecorder(store *Store, sub *broadcast.Subscription[types.ParsedEvent], logger *slog.Logger) *Recorder {
	return &Recorder{store: store, sub: sub, logger: logger.With("component", "historicalstore.recorder")}
}

// Run drains events until ctx is cancelled, persisting activities and
// positions as they arrive and periodically checkpointing sync state. It
// flushes any partial batch before returning.
func (r *Recorder) Run(ctx context.Context) error {
	state, err := r.store.LoadSyncState()
	if err != nil {
		return err
	}
	state.SyncInProgress = true
	state.LastSyncStartedAt = time.Now()
	if err := r.store.SaveSyncState(state); err != nil {
		r.logger.Warn("save sync state failed", "error", err)
	}

	checkpoint := time.NewTicker(10 * time.Second)
	defer checkpoint.Stop()

	defer func() {
		state.SyncInProgress = false
		state.LastSyncCompletedAt = time.Now()
		if err := r.store.SaveSyncState(state); err != nil {
			r.logger.Warn("save sync state failed", "error", err)
		}
		if err := r.store.Flush(); err != nil {
			r.logger.Warn("flush on shutdown failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-checkpoint.C:
			if err := r.store.SaveSyncState(state); err != nil {
				r.logger.Warn("checkpoint save failed", "error", err)
			}
		case <-r.sub.Notify():
			for _, evt := range r.sub.Drain() {
				r.handle(evt, &state)
			}
		}
	}
}

func (r *Recorder) handle(evt types.ParsedEvent, state *SyncState) {
	switch evt.Kind {
	case types.EventTrade:
		r.recordTrade(evt.Trade, state)
	case types.EventLastTradePrice:
		r.recordPosition(evt.LastTradePrice)
	}
}

func (r *Recorder) recordTrade(t *types.WSTradeEvent, state *SyncState) {
	if t == nil {
		return
	}
	rec := ActivityRecord{
		AssetID:   t.AssetID,
		Side:      t.Side,
		Price:     t.Price,
		Size:      t.Size,
		Timestamp: time.Now(),
	}
	if err := r.store.Activities.Add(rec); err != nil {
		r.logger.Error("persist activity failed", "asset_id", t.AssetID, "error", err)
		return
	}

	r.activityCount++
	state.LastActivityID = t.ID
	state.Totals["trades"] = state.Totals["trades"] + 1
	if ts, err := strconv.ParseInt(t.Timestamp, 10, 64); err == nil {
		state.LastActivityTimestamp = ts
	}
}

func (r *Recorder) recordPosition(p *types.WSLastTradePriceEvent) {
	if p == nil {
		return
	}
	rec := PositionRecord{
		AssetID:   p.AssetID,
		Price:     p.Price,
		Timestamp: time.Now(),
	}
	if err := r.store.Positions.Add(rec); err != nil {
		r.logger.Error("persist position failed", "asset_id", p.AssetID, "error", err)
	}
}
