// Package parser decodes raw WebSocket frames from the upstream feed into
// typed ParsedEvent values.
package parser

import (
	"encoding/json"
	"fmt"

	"polystream/pkg/types"
)

// envelope is the minimal shape every frame carries; it is decoded first so
// the tag can select which typed struct to decode into.
type envelope struct {
	EventType string `json:"event_type"`
}

// Parse decodes one raw WebSocket frame. A frame may be a single JSON object
// or a JSON array of objects (a batch); either shape yields zero or more
// ParsedEvent values — a price_change frame carrying several changed levels
// yields one ParsedEvent per level. Frames with a recognized but purely
// informational tag (best_bid_ask, new_market, and other status-only tags
// with no dedicated variant) are still returned, tagged EventUnknown, so the
// caller can choose whether to log them; they never carry book mutations.
func Parse(raw []byte) ([]types.ParsedEvent, error) {
	trimmed := firstNonSpace(raw)
	if trimmed == '[' {
		var frames []json.RawMessage
		if err := json.Unmarshal(raw, &frames); err != nil {
			return nil, fmt.Errorf("decode batch frame: %w", err)
		}
		events := make([]types.ParsedEvent, 0, len(frames))
		for _, frame := range frames {
			evts, err := parseFrame(frame)
			if err != nil {
				return nil, err
			}
			events = append(events, evts...)
		}
		return events, nil
	}

	return parseFrame(raw)
}

func parseFrame(raw json.RawMessage) ([]types.ParsedEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.EventType {
	case "book":
		var evt types.WSBookEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, fmt.Errorf("decode book event: %w", err)
		}
		return []types.ParsedEvent{{Kind: types.EventBook, Book: &evt, RawTag: env.EventType}}, nil

	case "price_change":
		var evt types.WSPriceChangeEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, fmt.Errorf("decode price_change event: %w", err)
		}
		events := make([]types.ParsedEvent, 0, len(evt.PriceChanges))
		for i := range evt.PriceChanges {
			events = append(events, types.ParsedEvent{
				Kind:        types.EventPriceChange,
				PriceChange: &evt.PriceChanges[i],
				RawTag:      env.EventType,
			})
		}
		return events, nil

	case "trade":
		var evt types.WSTradeEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, fmt.Errorf("decode trade event: %w", err)
		}
		return []types.ParsedEvent{{Kind: types.EventTrade, Trade: &evt, RawTag: env.EventType}}, nil

	case "order":
		var evt types.WSOrderEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, fmt.Errorf("decode order event: %w", err)
		}
		return []types.ParsedEvent{{Kind: types.EventOrder, Order: &evt, RawTag: env.EventType}}, nil

	case "last_trade_price":
		var evt types.WSLastTradePriceEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, fmt.Errorf("decode last_trade_price event: %w", err)
		}
		return []types.ParsedEvent{{Kind: types.EventLastTradePrice, LastTradePrice: &evt, RawTag: env.EventType}}, nil

	case "tick_size_change":
		var evt types.WSTickSizeChangeEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, fmt.Errorf("decode tick_size_change event: %w", err)
		}
		return []types.ParsedEvent{{Kind: types.EventTickSize, TickSize: &evt, RawTag: env.EventType}}, nil

	case "market_resolved":
		var evt types.WSMarketStatusEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, fmt.Errorf("decode market_resolved event: %w", err)
		}
		if evt.Status == "" {
			evt.Status = "resolved"
		}
		return []types.ParsedEvent{{Kind: types.EventMarketStatus, MarketStatus: &evt, RawTag: env.EventType}}, nil

	case "best_bid_ask", "new_market", "":
		return []types.ParsedEvent{{Kind: types.EventUnknown, RawTag: env.EventType}}, nil

	default:
		return []types.ParsedEvent{{Kind: types.EventUnknown, RawTag: env.EventType}}, nil
	}
}

func firstNonSpace(raw []byte) byte {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}
