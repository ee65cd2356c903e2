// types.go mirrors the chain's stream and query wire shapes. These structs
// track the RPC contract, not the pipeline's envelope model; the ingester
// and heartbeat translate them into pkg/types payloads.
package chain

// ————————————————————————————————————————————————————————————————————————
// Stream service
// ————————————————————————————————————————————————————————————————————————

// Per-feed filters. A single "*" entry means all.
type BankBalancesFilter struct {
	Accounts []string `json:"accounts"`
}

type SubaccountDepositsFilter struct {
	SubaccountIDs []string `json:"subaccount_ids"`
}

type TradesFilter struct {
	SubaccountIDs []string `json:"subaccount_ids"`
	MarketIDs     []string `json:"market_ids"`
}

type OrdersFilter struct {
	SubaccountIDs []string `json:"subaccount_ids"`
	MarketIDs     []string `json:"market_ids"`
}

type OrderbookFilter struct {
	MarketIDs []string `json:"market_ids"`
}

type PositionsFilter struct {
	SubaccountIDs []string `json:"subaccount_ids"`
	MarketIDs     []string `json:"market_ids"`
}

type OraclePriceFilter struct {
	Symbol []string `json:"symbol"`
}

// StreamRequest selects which feeds the server pushes. Nil filters disable
// a feed entirely.
type StreamRequest struct {
	BankBalancesFilter         *BankBalancesFilter       `json:"bank_balances_filter,omitempty"`
	SubaccountDepositsFilter   *SubaccountDepositsFilter `json:"subaccount_deposits_filter,omitempty"`
	SpotTradesFilter           *TradesFilter             `json:"spot_trades_filter,omitempty"`
	DerivativeTradesFilter     *TradesFilter             `json:"derivative_trades_filter,omitempty"`
	SpotOrdersFilter           *OrdersFilter             `json:"spot_orders_filter,omitempty"`
	DerivativeOrdersFilter     *OrdersFilter             `json:"derivative_orders_filter,omitempty"`
	SpotOrderbooksFilter       *OrderbookFilter          `json:"spot_orderbooks_filter,omitempty"`
	DerivativeOrderbooksFilter *OrderbookFilter          `json:"derivative_orderbooks_filter,omitempty"`
	PositionsFilter            *PositionsFilter          `json:"positions_filter,omitempty"`
	OraclePriceFilter          *OraclePriceFilter        `json:"oracle_price_filter,omitempty"`
}

// StreamResponse is one pushed chunk: everything that happened in one block,
// for the subscribed feeds.
type StreamResponse struct {
	BlockHeight                uint64                        `json:"block_height"`
	BlockTime                  int64                         `json:"block_time"`
	BankBalances               []StreamBankBalance           `json:"bank_balances,omitempty"`
	SubaccountDeposits         []StreamSubaccountDeposits    `json:"subaccount_deposits,omitempty"`
	SpotTrades                 []StreamSpotTrade             `json:"spot_trades,omitempty"`
	DerivativeTrades           []StreamDerivativeTrade       `json:"derivative_trades,omitempty"`
	SpotOrders                 []StreamSpotOrderUpdate       `json:"spot_orders,omitempty"`
	DerivativeOrders           []StreamDerivativeOrderUpdate `json:"derivative_orders,omitempty"`
	SpotOrderbookUpdates       []StreamOrderbookUpdate       `json:"spot_orderbook_updates,omitempty"`
	DerivativeOrderbookUpdates []StreamOrderbookUpdate       `json:"derivative_orderbook_updates,omitempty"`
	Positions                  []StreamPosition              `json:"positions,omitempty"`
	OraclePrices               []StreamOraclePrice           `json:"oracle_prices,omitempty"`
}

type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

type StreamBankBalance struct {
	Account  string `json:"account"`
	Balances []Coin `json:"balances"`
}

type Deposit struct {
	AvailableBalance string `json:"available_balance"`
	TotalBalance     string `json:"total_balance"`
}

type SubaccountDeposit struct {
	Denom   string   `json:"denom"`
	Deposit *Deposit `json:"deposit"`
}

type StreamSubaccountDeposits struct {
	SubaccountID string              `json:"subaccount_id"`
	Deposits     []SubaccountDeposit `json:"deposits"`
}

type StreamSpotTrade struct {
	MarketID            string `json:"market_id"`
	IsBuy               bool   `json:"is_buy"`
	ExecutionType       string `json:"execution_type"`
	Quantity            string `json:"quantity"`
	Price               string `json:"price"`
	SubaccountID        string `json:"subaccount_id"`
	Fee                 string `json:"fee"`
	OrderHash           string `json:"order_hash"`
	FeeRecipientAddress string `json:"fee_recipient_address"`
	Cid                 string `json:"cid"`
	TradeID             string `json:"trade_id"`
}

type PositionDelta struct {
	IsLong            bool   `json:"is_long"`
	ExecutionQuantity string `json:"execution_quantity"`
	ExecutionMargin   string `json:"execution_margin"`
	ExecutionPrice    string `json:"execution_price"`
}

type StreamDerivativeTrade struct {
	MarketID            string         `json:"market_id"`
	IsBuy               bool           `json:"is_buy"`
	ExecutionType       string         `json:"execution_type"`
	SubaccountID        string         `json:"subaccount_id"`
	PositionDelta       *PositionDelta `json:"position_delta"`
	Payout              string         `json:"payout"`
	Fee                 string         `json:"fee"`
	OrderHash           string         `json:"order_hash"`
	FeeRecipientAddress string         `json:"fee_recipient_address"`
	Cid                 string         `json:"cid"`
	TradeID             string         `json:"trade_id"`
}

// Order state codes pushed by the stream.
const (
	OrderStatusUnspecified int32 = 0
	OrderStatusBooked      int32 = 1
	OrderStatusMatched     int32 = 2
	OrderStatusCancelled   int32 = 3
)

type OrderInfo struct {
	SubaccountID string `json:"subaccount_id"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
}

type SpotLimitOrder struct {
	OrderInfo *OrderInfo `json:"order_info"`
	OrderType int32      `json:"order_type"`
	Fillable  string     `json:"fillable"`
}

type StreamSpotOrder struct {
	MarketID string          `json:"market_id"`
	Order    *SpotLimitOrder `json:"order"`
}

type StreamSpotOrderUpdate struct {
	Status    int32            `json:"status"`
	OrderHash string           `json:"order_hash"`
	Cid       string           `json:"cid"`
	Order     *StreamSpotOrder `json:"order"`
}

type DerivativeLimitOrder struct {
	OrderInfo *OrderInfo `json:"order_info"`
	OrderType int32      `json:"order_type"`
	Margin    string     `json:"margin"`
	Fillable  string     `json:"fillable"`
}

type StreamDerivativeOrder struct {
	MarketID string                `json:"market_id"`
	IsMarket bool                  `json:"is_market"`
	Order    *DerivativeLimitOrder `json:"order"`
}

type StreamDerivativeOrderUpdate struct {
	Status    int32                  `json:"status"`
	OrderHash string                 `json:"order_hash"`
	Cid       string                 `json:"cid"`
	Order     *StreamDerivativeOrder `json:"order"`
}

type PriceLevel struct {
	P string `json:"p"`
	Q string `json:"q"`
}

type Orderbook struct {
	MarketID   string       `json:"market_id"`
	BuyLevels  []PriceLevel `json:"buy_levels"`
	SellLevels []PriceLevel `json:"sell_levels"`
}

type StreamOrderbookUpdate struct {
	Seq       uint64     `json:"seq"`
	Orderbook *Orderbook `json:"orderbook"`
}

type StreamPosition struct {
	MarketID               string `json:"market_id"`
	SubaccountID           string `json:"subaccount_id"`
	IsLong                 bool   `json:"is_long"`
	Quantity               string `json:"quantity"`
	EntryPrice             string `json:"entry_price"`
	Margin                 string `json:"margin"`
	CumulativeFundingEntry string `json:"cumulative_funding_entry"`
}

type StreamOraclePrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Type   string `json:"type"`
}

// ————————————————————————————————————————————————————————————————————————
// Query service
// ————————————————————————————————————————————————————————————————————————

// Market status codes returned by the query service.
const (
	MarketStatusActive     int32 = 1
	MarketStatusPaused     int32 = 2
	MarketStatusDemolished int32 = 3
	MarketStatusExpired    int32 = 4
)

type QueryDerivativeMarketsRequest struct {
	Status             string   `json:"status,omitempty"`
	MarketIDs          []string `json:"market_ids,omitempty"`
	WithMidPriceAndTOB bool     `json:"with_mid_price_and_tob,omitempty"`
}

type DerivativeMarketInfo struct {
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
	Status                 int32  `json:"status"`
	MinPriceTickSize       string `json:"min_price_tick_size"`
	MinQuantityTickSize    string `json:"min_quantity_tick_size"`
	MinNotional            string `json:"min_notional"`
}

type PerpetualMarketInfo struct {
	HourlyFundingRateCap string `json:"hourly_funding_rate_cap"`
	HourlyInterestRate   string `json:"hourly_interest_rate"`
	FundingInterval      int64  `json:"funding_interval"`
}

type PerpetualMarketFunding struct {
	CumulativeFunding string `json:"cumulative_funding"`
	CumulativePrice   string `json:"cumulative_price"`
}

type PerpetualMarketState struct {
	MarketInfo  *PerpetualMarketInfo    `json:"market_info"`
	FundingInfo *PerpetualMarketFunding `json:"funding_info"`
}

type FullDerivativeMarket struct {
	Market        *DerivativeMarketInfo `json:"market"`
	PerpetualInfo *PerpetualMarketState `json:"perpetual_info"`
	MarkPrice     string                `json:"mark_price"`
}

type QueryDerivativeMarketsResponse struct {
	Markets []FullDerivativeMarket `json:"markets"`
}

type QueryPositionsRequest struct{}

type DerivativePosition struct {
	SubaccountID string          `json:"subaccount_id"`
	MarketID     string          `json:"market_id"`
	Position     *StreamPosition `json:"position"`
}

type QueryPositionsResponse struct {
	State []DerivativePosition `json:"state"`
}

type QueryExchangeBalancesRequest struct{}

type Balance struct {
	SubaccountID string   `json:"subaccount_id"`
	Denom        string   `json:"denom"`
	Deposits     *Deposit `json:"deposits"`
}

type QueryExchangeBalancesResponse struct {
	Balances []Balance `json:"balances"`
}

type QueryFullDerivativeOrderbookRequest struct {
	MarketID string `json:"market_id"`
}

type TrimmedLimitOrder struct {
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	OrderHash    string `json:"order_hash"`
	SubaccountID string `json:"subaccount_id"`
}

type QueryFullDerivativeOrderbookResponse struct {
	Bids []TrimmedLimitOrder `json:"bids"`
	Asks []TrimmedLimitOrder `json:"asks"`
}

// WildcardStreamRequest subscribes every feed except positions, which are
// snapshotted by the heartbeat instead.
func WildcardStreamRequest() *StreamRequest {
	all := []string{"*"}
	return &StreamRequest{
		BankBalancesFilter:         &BankBalancesFilter{Accounts: all},
		SubaccountDepositsFilter:   &SubaccountDepositsFilter{SubaccountIDs: all},
		SpotTradesFilter:           &TradesFilter{SubaccountIDs: all, MarketIDs: all},
		DerivativeTradesFilter:     &TradesFilter{SubaccountIDs: all, MarketIDs: all},
		SpotOrdersFilter:           &OrdersFilter{SubaccountIDs: all, MarketIDs: all},
		DerivativeOrdersFilter:     &OrdersFilter{SubaccountIDs: all, MarketIDs: all},
		SpotOrderbooksFilter:       &OrderbookFilter{MarketIDs: all},
		DerivativeOrderbooksFilter: &OrderbookFilter{MarketIDs: all},
		OraclePriceFilter:          &OraclePriceFilter{Symbol: all},
	}
}
