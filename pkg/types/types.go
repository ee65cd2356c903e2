// Package types defines the shared record model used across all packages.
//
// This package is the common vocabulary for the pipeline — the log envelope,
// its closed set of message tags, and the payload shapes for every tag. It
// has no dependencies on internal packages, so it can be imported by any
// layer: the ingester and heartbeat build envelopes, the producer serializes
// them, and the sinks deserialize and dispatch on the tag.
package types

import (
	"encoding/json"
	"fmt"
)

// ————————————————————————————————————————————————————————————————————————
// Message tags
// ————————————————————————————————————————————————————————————————————————

// MessageType is the closed tag set for log records. Stream* tags originate
// from the chain event stream; the rest come from heartbeat snapshots.
type MessageType string

const (
	TypeDerivativeMarket          MessageType = "DerivativeMarket"
	TypeExchangePosition          MessageType = "ExchangePosition"
	TypeStreamPosition            MessageType = "StreamPosition"
	TypeExchangeBalance           MessageType = "ExchangeBalance"
	TypeDerivativeL3Orderbook     MessageType = "DerivativeL3Orderbook"
	TypeStreamSpotOrderbook       MessageType = "StreamSpotOrderbook"
	TypeStreamDerivativeOrderbook MessageType = "StreamDerivativeOrderbook"
	TypeSpotTrade                 MessageType = "SpotTrade"
	TypeDerivativeTrade           MessageType = "DerivativeTrade"
	TypeSpotOrder                 MessageType = "SpotOrder"
	TypeDerivativeOrder           MessageType = "DerivativeOrder"
	TypeStreamBankBalance         MessageType = "StreamBankBalance"
	TypeStreamSubaccountDeposit   MessageType = "StreamSubaccountDeposit"
	TypeStreamOraclePrice         MessageType = "StreamOraclePrice"
)

// ————————————————————————————————————————————————————————————————————————
// Envelope
// ————————————————————————————————————————————————————————————————————————

// Envelope is the record placed on the log. BlockHeight is the monotonic
// chain counter; BlockTime is milliseconds since epoch. Payload carries
// exactly one variant list, and its variant must match MessageType.
type Envelope struct {
	MessageType MessageType `json:"message_type"`
	BlockHeight uint64      `json:"block_height"`
	BlockTime   uint64      `json:"block_time"`
	Payload     Payload     `json:"payload"`
}

// Payload is a tagged union encoded as a JSON object with exactly one key.
// Decimal fields inside the variants stay as strings end to end; scaling to
// floating point happens only in the sinks.
type Payload struct {
	DerivativeMarkets          []DerivativeMarket  `json:"DerivativeMarkets,omitempty"`
	ExchangePositions          []Position          `json:"ExchangePositions,omitempty"`
	StreamPositions            []Position          `json:"StreamPositions,omitempty"`
	ExchangeBalances           []ExchangeBalance   `json:"ExchangeBalances,omitempty"`
	DerivativeL3Orderbooks     []OrderbookL3       `json:"DerivativeL3Orderbooks,omitempty"`
	StreamSpotOrderbooks       []OrderbookUpdate   `json:"StreamSpotOrderbooks,omitempty"`
	StreamDerivativeOrderbooks []OrderbookUpdate   `json:"StreamDerivativeOrderbooks,omitempty"`
	SpotTrades                 []SpotTrade         `json:"SpotTrades,omitempty"`
	DerivativeTrades           []DerivativeTrade   `json:"DerivativeTrades,omitempty"`
	SpotOrders                 []SpotOrder         `json:"SpotOrders,omitempty"`
	DerivativeOrders           []DerivativeOrder   `json:"DerivativeOrders,omitempty"`
	StreamBankBalances         []BankBalance       `json:"StreamBankBalances,omitempty"`
	StreamSubaccountDeposits   []SubaccountDeposit `json:"StreamSubaccountDeposits,omitempty"`
	StreamOraclePrices         []OraclePrice       `json:"StreamOraclePrices,omitempty"`
}

// Key returns the log record key: "{block_height}-{block_time}". This is a
// grouping hint for the broker, not a uniqueness guarantee.
func (e *Envelope) Key() string {
	return fmt.Sprintf("%d-%d", e.BlockHeight, e.BlockTime)
}

// variantCount returns how many variant lists are non-empty.
func (p *Payload) variantCount() int {
	n := 0
	for _, present := range []bool{
		len(p.DerivativeMarkets) > 0,
		len(p.ExchangePositions) > 0,
		len(p.StreamPositions) > 0,
		len(p.ExchangeBalances) > 0,
		len(p.DerivativeL3Orderbooks) > 0,
		len(p.StreamSpotOrderbooks) > 0,
		len(p.StreamDerivativeOrderbooks) > 0,
		len(p.SpotTrades) > 0,
		len(p.DerivativeTrades) > 0,
		len(p.SpotOrders) > 0,
		len(p.DerivativeOrders) > 0,
		len(p.StreamBankBalances) > 0,
		len(p.StreamSubaccountDeposits) > 0,
		len(p.StreamOraclePrices) > 0,
	} {
		if present {
			n++
		}
	}
	return n
}

// variantFor reports whether the payload variant matching t is populated.
func (p *Payload) variantFor(t MessageType) bool {
	switch t {
	case TypeDerivativeMarket:
		return len(p.DerivativeMarkets) > 0
	case TypeExchangePosition:
		return len(p.ExchangePositions) > 0
	case TypeStreamPosition:
		return len(p.StreamPositions) > 0
	case TypeExchangeBalance:
		return len(p.ExchangeBalances) > 0
	case TypeDerivativeL3Orderbook:
		return len(p.DerivativeL3Orderbooks) > 0
	case TypeStreamSpotOrderbook:
		return len(p.StreamSpotOrderbooks) > 0
	case TypeStreamDerivativeOrderbook:
		return len(p.StreamDerivativeOrderbooks) > 0
	case TypeSpotTrade:
		return len(p.SpotTrades) > 0
	case TypeDerivativeTrade:
		return len(p.DerivativeTrades) > 0
	case TypeSpotOrder:
		return len(p.SpotOrders) > 0
	case TypeDerivativeOrder:
		return len(p.DerivativeOrders) > 0
	case TypeStreamBankBalance:
		return len(p.StreamBankBalances) > 0
	case TypeStreamSubaccountDeposit:
		return len(p.StreamSubaccountDeposits) > 0
	case TypeStreamOraclePrice:
		return len(p.StreamOraclePrices) > 0
	default:
		return false
	}
}

// Validate checks the envelope for structural correctness: a known tag,
// exactly one populated payload variant, and the variant matching the tag.
func (e *Envelope) Validate() error {
	if e.MessageType == "" {
		return fmt.Errorf("envelope: missing message_type")
	}
	n := e.Payload.variantCount()
	if n == 0 {
		return fmt.Errorf("envelope %s: empty payload", e.MessageType)
	}
	if n > 1 {
		return fmt.Errorf("envelope %s: %d payload variants, want 1", e.MessageType, n)
	}
	if !e.Payload.variantFor(e.MessageType) {
		return fmt.Errorf("envelope %s: payload variant does not match message_type", e.MessageType)
	}
	return nil
}

// Marshal serializes the envelope to its canonical JSON form.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses a canonical JSON envelope and validates it.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// ————————————————————————————————————————————————————————————————————————
// Payload shapes
// ————————————————————————————————————————————————————————————————————————

// MarketStatus values as mapped from the chain's integer status codes.
const (
	MarketStatusActive     = "Active"
	MarketStatusPaused     = "Paused"
	MarketStatusDemolished = "Demolished"
	MarketStatusExpired    = "Expired"
	MarketStatusUnknown    = "Unknown"
)

// DerivativeMarket is one market catalog entry. All numeric fields are
// chain-scaled decimal strings (prices at 1e24, ratios at 1e18).
type DerivativeMarket struct {
	MarketID               string `json:"market_id"`
	Ticker                 string `json:"ticker"`
	OracleBase             string `json:"oracle_base"`
	OracleQuote            string `json:"oracle_quote"`
	QuoteDenom             string `json:"quote_denom"`
	MakerFeeRate           string `json:"maker_fee_rate"`
	TakerFeeRate           string `json:"taker_fee_rate"`
	InitialMarginRatio     string `json:"initial_margin_ratio"`
	MaintenanceMarginRatio string `json:"maintenance_margin_ratio"`
	IsPerpetual            bool   `json:"is_perpetual"`
	Status                 string `json:"status"`
	MarkPrice              string `json:"mark_price"`
	MinPriceTick           string `json:"min_price_tick"`
	MinQuantityTick        string `json:"min_quantity_tick"`
	MinNotional            string `json:"min_notional"`
	HFR                    string `json:"hfr"` // hourly funding rate cap
	HIR                    string `json:"hir"` // hourly interest rate
	FundingInterval        string `json:"funding_interval"`
	CumulativeFunding      string `json:"cumulative_funding"`
	CumulativePrice        string `json:"cumulative_price"`
}

// Position is one open derivative position. The same shape serves both the
// heartbeat snapshot (ExchangePosition) and the stream feed (StreamPosition).
type Position struct {
	MarketID               string `json:"market_id"`
	SubaccountID           string `json:"subaccount_id"`
	IsLong                 bool   `json:"is_long"`
	Quantity               string `json:"quantity"`
	EntryPrice             string `json:"entry_price"`
	Margin                 string `json:"margin"`
	CumulativeFundingEntry string `json:"cumulative_funding_entry"`
}

// ExchangeBalance is one subaccount balance row from the heartbeat snapshot.
type ExchangeBalance struct {
	SubaccountID     string `json:"subaccount_id"`
	Denom            string `json:"denom"`
	AvailableBalance string `json:"available_balance"`
	TotalBalance     string `json:"total_balance"`
}

// LimitOrder is a single resting order inside an L3 orderbook snapshot.
type LimitOrder struct {
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	OrderHash    string `json:"order_hash"`
	SubaccountID string `json:"subaccount_id"`
}

// OrderbookL3 is an order-by-order book snapshot for one market.
type OrderbookL3 struct {
	MarketID  string       `json:"market_id"`
	Bids      []LimitOrder `json:"bids"`
	Asks      []LimitOrder `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// PriceLevel is one aggregated level of an L2 orderbook update.
type PriceLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// OrderbookUpdate is an L2 level-aggregated book update from the stream.
type OrderbookUpdate struct {
	MarketID   string       `json:"market_id"`
	BuyLevels  []PriceLevel `json:"buy_levels"`
	SellLevels []PriceLevel `json:"sell_levels"`
	Sequence   uint64       `json:"sequence"`
}

// SpotTrade is one executed spot trade from the stream.
type SpotTrade struct {
	MarketID            string `json:"market_id"`
	IsBuy               bool   `json:"is_buy"`
	ExecutionType       string `json:"execution_type"`
	Quantity            string `json:"quantity"`
	Price               string `json:"price"`
	SubaccountID        string `json:"subaccount_id"`
	Fee                 string `json:"fee"`
	OrderHash           string `json:"order_hash"`
	FeeRecipientAddress string `json:"fee_recipient_address"`
	CID                 string `json:"cid"`
	TradeID             string `json:"trade_id"`
}

// PositionDelta is the execution detail of a derivative trade.
type PositionDelta struct {
	IsLong            bool   `json:"is_long"`
	ExecutionQuantity string `json:"execution_quantity"`
	ExecutionMargin   string `json:"execution_margin"`
	ExecutionPrice    string `json:"execution_price"`
}

// DerivativeTrade is one executed derivative trade from the stream. Unlike
// spot trades, price and quantity live inside the position delta.
type DerivativeTrade struct {
	MarketID            string        `json:"market_id"`
	IsBuy               bool          `json:"is_buy"`
	ExecutionType       string        `json:"execution_type"`
	SubaccountID        string        `json:"subaccount_id"`
	PositionDelta       PositionDelta `json:"position_delta"`
	Payout              string        `json:"payout"`
	Fee                 string        `json:"fee"`
	OrderHash           string        `json:"order_hash"`
	FeeRecipientAddress string        `json:"fee_recipient_address"`
	CID                 string        `json:"cid"`
	TradeID             string        `json:"trade_id"`
}

// SpotOrder is one spot order lifecycle update from the stream.
type SpotOrder struct {
	Status       string `json:"status"`
	OrderHash    string `json:"order_hash"`
	CID          string `json:"cid"`
	MarketID     string `json:"market_id"`
	SubaccountID string `json:"subaccount_id"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	Fillable     string `json:"fillable"`
	IsBuy        bool   `json:"is_buy"`
	OrderType    string `json:"order_type"`
}

// DerivativeOrder is one derivative order lifecycle update from the stream.
type DerivativeOrder struct {
	Status       string `json:"status"`
	OrderHash    string `json:"order_hash"`
	CID          string `json:"cid"`
	MarketID     string `json:"market_id"`
	SubaccountID string `json:"subaccount_id"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	Margin       string `json:"margin"`
	Fillable     string `json:"fillable"`
	IsBuy        bool   `json:"is_buy"`
	OrderType    string `json:"order_type"`
	IsMarket     bool   `json:"is_market"`
}

// Coin is a single denom/amount pair inside a bank balance update.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// BankBalance is a bank-module balance update from the stream.
type BankBalance struct {
	Account  string `json:"account"`
	Balances []Coin `json:"balances"`
}

// SubaccountDeposit is a subaccount deposit update from the stream.
type SubaccountDeposit struct {
	SubaccountID     string `json:"subaccount_id"`
	Denom            string `json:"denom"`
	AvailableBalance string `json:"available_balance"`
	TotalBalance     string `json:"total_balance"`
}

// OraclePrice is an oracle price update from the stream.
type OraclePrice struct {
	Symbol     string `json:"symbol"`
	Price      string `json:"price"`
	OracleType string `json:"oracle_type"`
}
