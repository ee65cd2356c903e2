package cachesink

import (
	"context"
	"strconv"

	"injective-pipeline/internal/liquidation"
	"injective-pipeline/internal/pubsub"
	"injective-pipeline/pkg/types"
)

func (s *Sink) applyExchangeBalances(ctx context.Context, balances []types.ExchangeBalance, height uint64) error {
	for _, b := range balances {
		s.writeBalance(ctx, b.SubaccountID, b.Denom, b.AvailableBalance, b.TotalBalance, height)
	}
	return nil
}

func (s *Sink) applyDeposits(ctx context.Context, deposits []types.SubaccountDeposit, height uint64) error {
	for _, d := range deposits {
		s.writeBalance(ctx, d.SubaccountID, d.Denom, d.AvailableBalance, d.TotalBalance, height)
	}
	return nil
}

// applyBankBalances projects bank-module updates onto the same balance key
// space, keyed by account address instead of subaccount id.
func (s *Sink) applyBankBalances(ctx context.Context, balances []types.BankBalance, height uint64) error {
	for _, b := range balances {
		for _, coin := range b.Balances {
			s.writeBalance(ctx, b.Account, coin.Denom, coin.Amount, coin.Amount, height)
		}
	}
	return nil
}

func (s *Sink) writeBalance(ctx context.Context, owner, denom, available, total string, height uint64) {
	key := balanceKey(owner, denom)
	err := s.rdb.HSet(ctx, key, map[string]any{
		"denom":             denom,
		"available_balance": formatFloat(scaleOrZero(available, liquidation.ScaleQuantity)),
		"total_balance":     formatFloat(scaleOrZero(total, liquidation.ScaleQuantity)),
		"block_height":      strconv.FormatUint(height, 10),
	}).Err()
	if err != nil {
		s.logger.Error("upsert balance", "key", key, "error", err)
		return
	}
	s.expire(ctx, key)
}

// applyOrderbookSummaries reduces each L3 snapshot to a best-bid/best-ask
// summary hash for dashboard reads.
func (s *Sink) applyOrderbookSummaries(ctx context.Context, books []types.OrderbookL3) error {
	for _, book := range books {
		bestBid, bestAsk := bookTopOfBook(book)
		mid := 0.0
		if bestBid > 0 && bestAsk > 0 {
			mid = (bestBid + bestAsk) / 2
		}

		key := orderbookSummaryKey(book.MarketID)
		err := s.rdb.HSet(ctx, key, map[string]any{
			"market_id":  book.MarketID,
			"best_bid":   formatFloat(bestBid),
			"best_ask":   formatFloat(bestAsk),
			"mid_price":  formatFloat(mid),
			"bid_orders": strconv.Itoa(len(book.Bids)),
			"ask_orders": strconv.Itoa(len(book.Asks)),
			"timestamp":  strconv.FormatInt(book.Timestamp, 10),
		}).Err()
		if err != nil {
			s.logger.Error("upsert orderbook summary", "market", book.MarketID, "error", err)
			continue
		}
		s.expire(ctx, key)
	}
	return nil
}

// bookTopOfBook scans for the highest bid and lowest ask. L3 snapshots are
// not guaranteed sorted.
func bookTopOfBook(book types.OrderbookL3) (bestBid, bestAsk float64) {
	for _, o := range book.Bids {
		if p := scaleOrZero(o.Price, liquidation.ScalePrice); p > bestBid {
			bestBid = p
		}
	}
	for _, o := range book.Asks {
		p := scaleOrZero(o.Price, liquidation.ScalePrice)
		if p > 0 && (bestAsk == 0 || p < bestAsk) {
			bestAsk = p
		}
	}
	return bestBid, bestAsk
}

func (s *Sink) publishTrades(n int, trade func(int) any) error {
	if n == 0 {
		return nil
	}
	events := make([]*pubsub.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, pubsub.NewEvent(pubsub.TradeUpdate, trade(i)))
	}
	if err := s.pub.PublishEventsBatch(events); err != nil {
		s.logger.Warn("trade fan-out", "error", err)
	}
	return nil
}

func (s *Sink) publishOrderbookUpdates(updates []types.OrderbookUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	events := make([]*pubsub.Event, 0, len(updates))
	for _, u := range updates {
		events = append(events, pubsub.NewEvent(pubsub.OrderbookUpdate, u))
	}
	if err := s.pub.PublishEventsBatch(events); err != nil {
		s.logger.Warn("orderbook fan-out", "error", err)
	}
	return nil
}

func (s *Sink) publishOraclePrices(prices []types.OraclePrice) error {
	if len(prices) == 0 {
		return nil
	}
	events := make([]*pubsub.Event, 0, len(prices))
	for _, p := range prices {
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			s.logger.Warn("unparsable oracle price, skipping", "symbol", p.Symbol, "price", p.Price)
			continue
		}
		events = append(events, pubsub.NewPriceUpdate(p.Symbol, price))
	}
	if len(events) == 0 {
		return nil
	}
	if err := s.pub.PublishEventsBatch(events); err != nil {
		s.logger.Warn("oracle price fan-out", "error", err)
	}
	return nil
}
