// event.go defines the broadcast event model and its wire encodings. Events
// are always published as a list, so single publishes and channel batches
// share one decode path on the subscriber side.
package pubsub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// EventType selects the broadcast channel in sharded mode.
type EventType int

const (
	MarketUpdate EventType = iota
	PositionUpdate
	LiquidationAlert
	PriceUpdate
	OrderbookUpdate
	TradeUpdate
	SystemEvent
)

func (t EventType) String() string {
	switch t {
	case MarketUpdate:
		return "MarketUpdate"
	case PositionUpdate:
		return "PositionUpdate"
	case LiquidationAlert:
		return "LiquidationAlert"
	case PriceUpdate:
		return "PriceUpdate"
	case OrderbookUpdate:
		return "OrderbookUpdate"
	case TradeUpdate:
		return "TradeUpdate"
	case SystemEvent:
		return "SystemEvent"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one broadcast message. Timestamp is wall-clock milliseconds.
type Event struct {
	EventType EventType `json:"event_type" msgpack:"event_type"`
	Timestamp uint64    `json:"timestamp" msgpack:"timestamp"`
	Payload   any       `json:"payload" msgpack:"payload"`
}

// ChannelFor derives the broadcast channel name: "{prefix}:{EventTypeName}"
// when sharded, the bare prefix otherwise.
func ChannelFor(prefix string, sharded bool, t EventType) string {
	if sharded {
		return prefix + ":" + t.String()
	}
	return prefix
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// NewEvent stamps an event with the current wall clock.
func NewEvent(t EventType, payload any) *Event {
	return &Event{EventType: t, Timestamp: nowMillis(), Payload: payload}
}

// NewMarketUpdate wraps a market catalog change.
func NewMarketUpdate(data any) *Event {
	return NewEvent(MarketUpdate, data)
}

// NewPriceUpdate wraps a mark price change for one market.
func NewPriceUpdate(marketID string, price float64) *Event {
	return NewEvent(PriceUpdate, map[string]any{
		"market_id": marketID,
		"price":     price,
	})
}

// NewLiquidationAlert wraps an alert payload from the cache sink.
func NewLiquidationAlert(data any) *Event {
	return NewEvent(LiquidationAlert, data)
}

// encodeEvents serializes a list of events with the configured protocol.
func encodeEvents(events []*Event, binary bool) ([]byte, error) {
	if binary {
		return msgpack.Marshal(events)
	}
	return json.Marshal(events)
}

// decodeEvents is the subscriber-side inverse of encodeEvents.
func decodeEvents(data []byte, binary bool) ([]*Event, error) {
	var events []*Event
	var err error
	if binary {
		err = msgpack.Unmarshal(data, &events)
	} else {
		err = json.Unmarshal(data, &events)
	}
	if err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}
