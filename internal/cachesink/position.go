package cachesink

import (
	"context"
	"strconv"

	"injective-pipeline/internal/liquidation"
	"injective-pipeline/internal/pubsub"
	"injective-pipeline/pkg/types"
)

// applyPositions upserts position records and prices them against the
// cached market state. Positions for unknown markets are skipped with a
// warning; the heartbeat will re-deliver them after the market lands.
func (s *Sink) applyPositions(ctx context.Context, positions []types.Position) error {
	var updates []*pubsub.Event
	for _, p := range positions {
		event, ok := s.applyPosition(ctx, p)
		if ok && event != nil {
			updates = append(updates, event)
		}
	}
	if len(updates) > 0 {
		if err := s.pub.PublishEventsBatch(updates); err != nil {
			s.logger.Warn("position update fan-out", "error", err)
		}
	}
	return nil
}

func (s *Sink) applyPosition(ctx context.Context, p types.Position) (*pubsub.Event, bool) {
	market, err := s.rdb.HGetAll(ctx, marketKey(p.MarketID)).Result()
	if err != nil {
		s.logger.Error("load market", "market", p.MarketID, "error", err)
		return nil, false
	}
	if len(market) == 0 {
		s.logger.Warn("position for unknown market, skipping",
			"market", p.MarketID, "subaccount", p.SubaccountID)
		return nil, false
	}

	quantity, err1 := liquidation.ScaleQuantity(p.Quantity)
	entryPrice, err2 := liquidation.ScalePrice(p.EntryPrice)
	margin, err3 := liquidation.ScalePrice(p.Margin)
	if err1 != nil || err2 != nil || err3 != nil {
		s.logger.Warn("position with unparsable decimals, skipping",
			"market", p.MarketID, "subaccount", p.SubaccountID)
		return nil, false
	}
	if quantity <= 0 || entryPrice <= 0 || margin <= 0 {
		s.logger.Debug("position with non-positive inputs, skipping",
			"market", p.MarketID, "subaccount", p.SubaccountID)
		return nil, false
	}
	entryFunding := scaleOrZero(p.CumulativeFundingEntry, liquidation.ScalePrice)

	markPrice, _ := strconv.ParseFloat(market["mark_price"], 64)
	mmr, _ := strconv.ParseFloat(market["maintenance_margin_ratio"], 64)
	marketFunding, _ := strconv.ParseFloat(market["cumulative_funding"], 64)

	liqPrice := liquidation.Price(p.IsLong, entryPrice, margin, quantity, mmr, marketFunding, entryFunding)
	liquidatable := liquidation.Liquidatable(p.IsLong, markPrice, liqPrice)

	key := positionKey(p.MarketID, p.SubaccountID)
	err = s.rdb.HSet(ctx, key, map[string]any{
		"market_id":                p.MarketID,
		"subaccount_id":            p.SubaccountID,
		"is_long":                  strconv.FormatBool(p.IsLong),
		"quantity":                 formatFloat(quantity),
		"entry_price":              formatFloat(entryPrice),
		"margin":                   formatFloat(margin),
		"cumulative_funding_entry": formatFloat(entryFunding),
		"liquidation_price":        formatFloat(liqPrice),
		"is_liquidatable":          strconv.FormatBool(liquidatable),
		"mark_price":               formatFloat(markPrice),
	}).Err()
	if err != nil {
		s.logger.Error("upsert position", "market", p.MarketID, "subaccount", p.SubaccountID, "error", err)
		return nil, false
	}
	s.expire(ctx, key)
	s.rdb.SAdd(ctx, marketPositionsKey(p.MarketID), p.SubaccountID)
	s.rdb.SAdd(ctx, subaccountPositionsKey(p.SubaccountID), p.MarketID)

	if s.updateLiquidatableSet(ctx, p.MarketID, p.SubaccountID, liquidatable) {
		s.emitAlert(ctx, Alert{
			MarketID:         p.MarketID,
			SubaccountID:     p.SubaccountID,
			IsLong:           p.IsLong,
			LiquidationPrice: liqPrice,
			MarkPrice:        markPrice,
			Quantity:         quantity,
			EntryPrice:       entryPrice,
			Margin:           margin,
		})
	}

	return pubsub.NewEvent(pubsub.PositionUpdate, map[string]any{
		"market_id":         p.MarketID,
		"subaccount_id":     p.SubaccountID,
		"is_long":           p.IsLong,
		"liquidation_price": liqPrice,
		"is_liquidatable":   liquidatable,
	}), true
}
