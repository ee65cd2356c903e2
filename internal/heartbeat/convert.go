// convert.go maps query service responses to envelope payloads.
package heartbeat

import (
	"strconv"

	"injective-pipeline/internal/chain"
	"injective-pipeline/pkg/types"
)

func marketStatusString(s int32) string {
	switch s {
	case chain.MarketStatusActive:
		return types.MarketStatusActive
	case chain.MarketStatusPaused:
		return types.MarketStatusPaused
	case chain.MarketStatusDemolished:
		return types.MarketStatusDemolished
	case chain.MarketStatusExpired:
		return types.MarketStatusExpired
	default:
		return types.MarketStatusUnknown
	}
}

func convertMarket(m chain.FullDerivativeMarket) types.DerivativeMarket {
	out := types.DerivativeMarket{MarkPrice: m.MarkPrice}

	if md := m.Market; md != nil {
		out.MarketID = md.MarketID
		out.Ticker = md.Ticker
		out.OracleBase = md.OracleBase
		out.OracleQuote = md.OracleQuote
		out.QuoteDenom = md.QuoteDenom
		out.MakerFeeRate = md.MakerFeeRate
		out.TakerFeeRate = md.TakerFeeRate
		out.InitialMarginRatio = md.InitialMarginRatio
		out.MaintenanceMarginRatio = md.MaintenanceMarginRatio
		out.IsPerpetual = md.IsPerpetual
		out.Status = marketStatusString(md.Status)
		out.MinPriceTick = md.MinPriceTickSize
		out.MinQuantityTick = md.MinQuantityTickSize
		out.MinNotional = md.MinNotional
	}
	if ps := m.PerpetualInfo; ps != nil {
		if mi := ps.MarketInfo; mi != nil {
			out.HFR = mi.HourlyFundingRateCap
			out.HIR = mi.HourlyInterestRate
			out.FundingInterval = strconv.FormatInt(mi.FundingInterval, 10)
		}
		if fi := ps.FundingInfo; fi != nil {
			out.CumulativeFunding = fi.CumulativeFunding
			out.CumulativePrice = fi.CumulativePrice
		}
	}
	return out
}

func convertPosition(p chain.DerivativePosition) types.Position {
	out := types.Position{
		MarketID:     p.MarketID,
		SubaccountID: p.SubaccountID,
	}
	if pos := p.Position; pos != nil {
		out.IsLong = pos.IsLong
		out.Quantity = pos.Quantity
		out.EntryPrice = pos.EntryPrice
		out.Margin = pos.Margin
		out.CumulativeFundingEntry = pos.CumulativeFundingEntry
	}
	return out
}

func convertBalance(b chain.Balance) types.ExchangeBalance {
	out := types.ExchangeBalance{
		SubaccountID:     b.SubaccountID,
		Denom:            b.Denom,
		AvailableBalance: "0",
		TotalBalance:     "0",
	}
	if b.Deposits != nil {
		out.AvailableBalance = b.Deposits.AvailableBalance
		out.TotalBalance = b.Deposits.TotalBalance
	}
	return out
}

func convertOrderbook(marketID string, book *chain.QueryFullDerivativeOrderbookResponse, timestamp int64) types.OrderbookL3 {
	return types.OrderbookL3{
		MarketID:  marketID,
		Bids:      convertOrders(book.Bids),
		Asks:      convertOrders(book.Asks),
		Timestamp: timestamp,
	}
}

func convertOrders(orders []chain.TrimmedLimitOrder) []types.LimitOrder {
	out := make([]types.LimitOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, types.LimitOrder{
			Price:        o.Price,
			Quantity:     o.Quantity,
			OrderHash:    o.OrderHash,
			SubaccountID: o.SubaccountID,
		})
	}
	return out
}
