package types

import (
	"encoding/json"
	"reflect"
	"testing"
)

func marketEnvelope() *Envelope {
	return &Envelope{
		MessageType: TypeDerivativeMarket,
		BlockHeight: 12345,
		BlockTime:   1700000000000,
		Payload: Payload{
			DerivativeMarkets: []DerivativeMarket{{
				MarketID:               "0xabc",
				Ticker:                 "BTC/USDT PERP",
				QuoteDenom:             "peggy0xdAC1",
				MaintenanceMarginRatio: "50000000000000000",
				IsPerpetual:            true,
				Status:                 MarketStatusActive,
				MarkPrice:              "100000000000000000000000000",
				CumulativeFunding:      "0",
			}},
		},
	}
}

func TestEnvelopeKey(t *testing.T) {
	t.Parallel()

	e := marketEnvelope()
	if got := e.Key(); got != "12345-1700000000000" {
		t.Errorf("Key() = %q, want %q", got, "12345-1700000000000")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	e := marketEnvelope()
	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if !reflect.DeepEqual(e, got) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, e)
	}
}

func TestEnvelopePayloadHasSingleKey(t *testing.T) {
	t.Parallel()

	data, err := marketEnvelope().Marshal()
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var raw struct {
		Payload map[string]json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if len(raw.Payload) != 1 {
		t.Fatalf("payload has %d keys, want 1: %v", len(raw.Payload), raw.Payload)
	}
	if _, ok := raw.Payload["DerivativeMarkets"]; !ok {
		t.Errorf("payload missing DerivativeMarkets key: %v", raw.Payload)
	}
}

func TestValidateRejectsVariantMismatch(t *testing.T) {
	t.Parallel()

	e := marketEnvelope()
	e.MessageType = TypeExchangePosition
	if err := e.Validate(); err == nil {
		t.Error("Validate() accepted a payload variant that does not match message_type")
	}
}

func TestValidateRejectsEmptyPayload(t *testing.T) {
	t.Parallel()

	e := &Envelope{MessageType: TypeSpotTrade, BlockHeight: 1, BlockTime: 1}
	if err := e.Validate(); err == nil {
		t.Error("Validate() accepted an empty payload")
	}
}

func TestValidateRejectsMultipleVariants(t *testing.T) {
	t.Parallel()

	e := marketEnvelope()
	e.Payload.ExchangePositions = []Position{{MarketID: "0xabc", SubaccountID: "0xsub"}}
	if err := e.Validate(); err == nil {
		t.Error("Validate() accepted a payload with two variants")
	}
}

func TestStreamAndExchangePositionsShareShape(t *testing.T) {
	t.Parallel()

	p := Position{
		MarketID:               "0xabc",
		SubaccountID:           "0xsub",
		IsLong:                 true,
		Quantity:               "1000000000000000000",
		EntryPrice:             "100000000000000000000000000",
		Margin:                 "10000000000000000000000000",
		CumulativeFundingEntry: "0",
	}
	e := &Envelope{
		MessageType: TypeStreamPosition,
		BlockHeight: 7,
		BlockTime:   8,
		Payload:     Payload{StreamPositions: []Position{p}},
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if !reflect.DeepEqual(got.Payload.StreamPositions[0], p) {
		t.Errorf("position round trip mismatch: %+v", got.Payload.StreamPositions[0])
	}
}
