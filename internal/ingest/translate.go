// translate.go converts one stream chunk into log envelopes. Each non-empty
// feed in the chunk becomes exactly one envelope carrying the whole list,
// tagged with the chunk's block height and chain timestamp.
package ingest

import (
	"fmt"

	"injective-pipeline/internal/chain"
	"injective-pipeline/pkg/types"
)

func orderStatusString(s int32) string {
	switch s {
	case chain.OrderStatusUnspecified:
		return "Unspecified"
	case chain.OrderStatusBooked:
		return "Booked"
	case chain.OrderStatusMatched:
		return "Matched"
	case chain.OrderStatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

func orderTypeString(t int32) string {
	switch t {
	case 0:
		return "Unspecified"
	case 1:
		return "Buy"
	case 2:
		return "Sell"
	case 3:
		return "StopBuy"
	case 4:
		return "StopSell"
	case 5:
		return "TakeBuy"
	case 6:
		return "TakeSell"
	case 7:
		return "BuyPO"
	case 8:
		return "SellPO"
	case 9:
		return "BuyAtomic"
	case 10:
		return "SellAtomic"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// Odd order type codes are the buy-side variants.
func isBuyOrderType(t int32) bool {
	switch t {
	case 1, 3, 5, 7, 9:
		return true
	default:
		return false
	}
}

// Translate maps a stream chunk to zero or more envelopes.
func Translate(resp *chain.StreamResponse) []*types.Envelope {
	var out []*types.Envelope
	height := resp.BlockHeight
	blockTime := uint64(resp.BlockTime)

	add := func(mt types.MessageType, payload types.Payload) {
		out = append(out, &types.Envelope{
			MessageType: mt,
			BlockHeight: height,
			BlockTime:   blockTime,
			Payload:     payload,
		})
	}

	if len(resp.BankBalances) > 0 {
		balances := make([]types.BankBalance, 0, len(resp.BankBalances))
		for _, b := range resp.BankBalances {
			coins := make([]types.Coin, 0, len(b.Balances))
			for _, c := range b.Balances {
				coins = append(coins, types.Coin{Denom: c.Denom, Amount: c.Amount})
			}
			balances = append(balances, types.BankBalance{Account: b.Account, Balances: coins})
		}
		add(types.TypeStreamBankBalance, types.Payload{StreamBankBalances: balances})
	}

	if len(resp.SubaccountDeposits) > 0 {
		var deposits []types.SubaccountDeposit
		for _, sd := range resp.SubaccountDeposits {
			for _, d := range sd.Deposits {
				dep := types.SubaccountDeposit{
					SubaccountID:     sd.SubaccountID,
					Denom:            d.Denom,
					AvailableBalance: "0",
					TotalBalance:     "0",
				}
				if d.Deposit != nil {
					dep.AvailableBalance = d.Deposit.AvailableBalance
					dep.TotalBalance = d.Deposit.TotalBalance
				}
				deposits = append(deposits, dep)
			}
		}
		add(types.TypeStreamSubaccountDeposit, types.Payload{StreamSubaccountDeposits: deposits})
	}

	if len(resp.SpotTrades) > 0 {
		trades := make([]types.SpotTrade, 0, len(resp.SpotTrades))
		for _, tr := range resp.SpotTrades {
			trades = append(trades, types.SpotTrade{
				MarketID:            tr.MarketID,
				IsBuy:               tr.IsBuy,
				ExecutionType:       tr.ExecutionType,
				Quantity:            tr.Quantity,
				Price:               tr.Price,
				SubaccountID:        tr.SubaccountID,
				Fee:                 tr.Fee,
				OrderHash:           tr.OrderHash,
				FeeRecipientAddress: tr.FeeRecipientAddress,
				CID:                 tr.Cid,
				TradeID:             tr.TradeID,
			})
		}
		add(types.TypeSpotTrade, types.Payload{SpotTrades: trades})
	}

	if len(resp.DerivativeTrades) > 0 {
		trades := make([]types.DerivativeTrade, 0, len(resp.DerivativeTrades))
		for _, tr := range resp.DerivativeTrades {
			delta := types.PositionDelta{
				ExecutionQuantity: "0",
				ExecutionMargin:   "0",
				ExecutionPrice:    "0",
			}
			if tr.PositionDelta != nil {
				delta = types.PositionDelta{
					IsLong:            tr.PositionDelta.IsLong,
					ExecutionQuantity: tr.PositionDelta.ExecutionQuantity,
					ExecutionMargin:   tr.PositionDelta.ExecutionMargin,
					ExecutionPrice:    tr.PositionDelta.ExecutionPrice,
				}
			}
			trades = append(trades, types.DerivativeTrade{
				MarketID:            tr.MarketID,
				IsBuy:               tr.IsBuy,
				ExecutionType:       tr.ExecutionType,
				SubaccountID:        tr.SubaccountID,
				PositionDelta:       delta,
				Payout:              tr.Payout,
				Fee:                 tr.Fee,
				OrderHash:           tr.OrderHash,
				FeeRecipientAddress: tr.FeeRecipientAddress,
				CID:                 tr.Cid,
				TradeID:             tr.TradeID,
			})
		}
		add(types.TypeDerivativeTrade, types.Payload{DerivativeTrades: trades})
	}

	if len(resp.SpotOrders) > 0 {
		orders := make([]types.SpotOrder, 0, len(resp.SpotOrders))
		for _, o := range resp.SpotOrders {
			order := types.SpotOrder{
				Status:    orderStatusString(o.Status),
				OrderHash: o.OrderHash,
				CID:       o.Cid,
				Price:     "0",
				Quantity:  "0",
				Fillable:  "0",
				OrderType: "Unknown",
			}
			if o.Order != nil {
				order.MarketID = o.Order.MarketID
				if lo := o.Order.Order; lo != nil {
					order.Fillable = lo.Fillable
					order.OrderType = orderTypeString(lo.OrderType)
					order.IsBuy = isBuyOrderType(lo.OrderType)
					if lo.OrderInfo != nil {
						order.SubaccountID = lo.OrderInfo.SubaccountID
						order.Price = lo.OrderInfo.Price
						order.Quantity = lo.OrderInfo.Quantity
					}
				}
			}
			orders = append(orders, order)
		}
		add(types.TypeSpotOrder, types.Payload{SpotOrders: orders})
	}

	if len(resp.DerivativeOrders) > 0 {
		orders := make([]types.DerivativeOrder, 0, len(resp.DerivativeOrders))
		for _, o := range resp.DerivativeOrders {
			order := types.DerivativeOrder{
				Status:    orderStatusString(o.Status),
				OrderHash: o.OrderHash,
				CID:       o.Cid,
				Price:     "0",
				Quantity:  "0",
				Margin:    "0",
				Fillable:  "0",
				OrderType: "Unknown",
			}
			if o.Order != nil {
				order.MarketID = o.Order.MarketID
				order.IsMarket = o.Order.IsMarket
				if lo := o.Order.Order; lo != nil {
					order.Margin = lo.Margin
					order.Fillable = lo.Fillable
					order.OrderType = orderTypeString(lo.OrderType)
					order.IsBuy = isBuyOrderType(lo.OrderType)
					if lo.OrderInfo != nil {
						order.SubaccountID = lo.OrderInfo.SubaccountID
						order.Price = lo.OrderInfo.Price
						order.Quantity = lo.OrderInfo.Quantity
					}
				}
			}
			orders = append(orders, order)
		}
		add(types.TypeDerivativeOrder, types.Payload{DerivativeOrders: orders})
	}

	if len(resp.SpotOrderbookUpdates) > 0 {
		add(types.TypeStreamSpotOrderbook, types.Payload{
			StreamSpotOrderbooks: translateOrderbooks(resp.SpotOrderbookUpdates),
		})
	}

	if len(resp.DerivativeOrderbookUpdates) > 0 {
		add(types.TypeStreamDerivativeOrderbook, types.Payload{
			StreamDerivativeOrderbooks: translateOrderbooks(resp.DerivativeOrderbookUpdates),
		})
	}

	if len(resp.Positions) > 0 {
		positions := make([]types.Position, 0, len(resp.Positions))
		for _, p := range resp.Positions {
			positions = append(positions, types.Position{
				MarketID:               p.MarketID,
				SubaccountID:           p.SubaccountID,
				IsLong:                 p.IsLong,
				Quantity:               p.Quantity,
				EntryPrice:             p.EntryPrice,
				Margin:                 p.Margin,
				CumulativeFundingEntry: p.CumulativeFundingEntry,
			})
		}
		add(types.TypeStreamPosition, types.Payload{StreamPositions: positions})
	}

	if len(resp.OraclePrices) > 0 {
		prices := make([]types.OraclePrice, 0, len(resp.OraclePrices))
		for _, p := range resp.OraclePrices {
			prices = append(prices, types.OraclePrice{
				Symbol:     p.Symbol,
				Price:      p.Price,
				OracleType: p.Type,
			})
		}
		add(types.TypeStreamOraclePrice, types.Payload{StreamOraclePrices: prices})
	}

	return out
}

func translateOrderbooks(updates []chain.StreamOrderbookUpdate) []types.OrderbookUpdate {
	books := make([]types.OrderbookUpdate, 0, len(updates))
	for _, u := range updates {
		book := types.OrderbookUpdate{Sequence: u.Seq}
		if u.Orderbook != nil {
			book.MarketID = u.Orderbook.MarketID
			book.BuyLevels = translateLevels(u.Orderbook.BuyLevels)
			book.SellLevels = translateLevels(u.Orderbook.SellLevels)
		}
		books = append(books, book)
	}
	return books
}

func translateLevels(levels []chain.PriceLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, types.PriceLevel{Price: l.P, Quantity: l.Q})
	}
	return out
}
