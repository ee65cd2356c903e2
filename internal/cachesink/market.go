package cachesink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"injective-pipeline/internal/liquidation"
	"injective-pipeline/internal/metrics"
	"injective-pipeline/internal/pubsub"
	"injective-pipeline/pkg/types"
)

// marketState is the scaled market snapshot the liquidation math reads.
type marketState struct {
	markPrice         float64
	mmr               float64
	cumulativeFunding float64
}

// Alert is the payload broadcast when a position becomes liquidatable.
type Alert struct {
	MarketID         string  `json:"market_id"`
	SubaccountID     string  `json:"subaccount_id"`
	IsLong           bool    `json:"is_long"`
	LiquidationPrice float64 `json:"liquidation_price"`
	MarkPrice        float64 `json:"mark_price"`
	Quantity         float64 `json:"quantity"`
	EntryPrice       float64 `json:"entry_price"`
	Margin           float64 `json:"margin"`
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// scaleOrZero is for optional fields where a bad decimal degrades to zero
// instead of skipping the whole record.
func scaleOrZero(raw string, scale func(string) (float64, error)) float64 {
	if raw == "" {
		return 0
	}
	v, err := scale(raw)
	if err != nil {
		return 0
	}
	return v
}

// applyMarket upserts one market record and recomputes liquidation for
// every cached position in that market. Mark price, maintenance margin and
// cumulative funding must parse; everything else degrades to zero.
func (s *Sink) applyMarket(ctx context.Context, m types.DerivativeMarket) (*pubsub.Event, error) {
	markPrice, err := liquidation.ScalePrice(m.MarkPrice)
	if err != nil {
		return nil, fmt.Errorf("mark_price %q: %w", m.MarkPrice, err)
	}
	mmr, err := liquidation.ScaleRatio(m.MaintenanceMarginRatio)
	if err != nil {
		return nil, fmt.Errorf("maintenance_margin_ratio %q: %w", m.MaintenanceMarginRatio, err)
	}
	cumulativeFunding, err := liquidation.ScalePrice(m.CumulativeFunding)
	if err != nil {
		return nil, fmt.Errorf("cumulative_funding %q: %w", m.CumulativeFunding, err)
	}

	key := marketKey(m.MarketID)
	fields := map[string]any{
		"market_id":                m.MarketID,
		"ticker":                   m.Ticker,
		"status":                   m.Status,
		"is_perpetual":             strconv.FormatBool(m.IsPerpetual),
		"mark_price":               formatFloat(markPrice),
		"maintenance_margin_ratio": formatFloat(mmr),
		"initial_margin_ratio":     formatFloat(scaleOrZero(m.InitialMarginRatio, liquidation.ScaleRatio)),
		"cumulative_funding":       formatFloat(cumulativeFunding),
		"cumulative_price":         formatFloat(scaleOrZero(m.CumulativePrice, liquidation.ScalePrice)),
		"min_price_tick":           formatFloat(scaleOrZero(m.MinPriceTick, liquidation.ScalePrice)),
		"min_quantity_tick":        formatFloat(scaleOrZero(m.MinQuantityTick, liquidation.ScaleQuantity)),
		"min_notional":             formatFloat(scaleOrZero(m.MinNotional, liquidation.ScaleQuantity)),
		"funding_interval":         m.FundingInterval,
	}
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return nil, err
	}
	s.expire(ctx, key)
	if err := s.rdb.SAdd(ctx, keyMarketsSet, m.MarketID).Err(); err != nil {
		return nil, err
	}

	state := marketState{markPrice: markPrice, mmr: mmr, cumulativeFunding: cumulativeFunding}
	s.recomputeMarketPositions(ctx, m.MarketID, state)

	return pubsub.NewMarketUpdate(map[string]any{
		"market_id":  m.MarketID,
		"ticker":     m.Ticker,
		"status":     m.Status,
		"mark_price": markPrice,
	}), nil
}

// recomputeMarketPositions re-prices every cached position of a market
// against fresh market state. Positions with unparsable or non-positive
// inputs are left untouched.
func (s *Sink) recomputeMarketPositions(ctx context.Context, marketID string, state marketState) {
	subaccounts, err := s.rdb.SMembers(ctx, marketPositionsKey(marketID)).Result()
	if err != nil {
		s.logger.Error("load market positions", "market", marketID, "error", err)
		return
	}

	for _, sub := range subaccounts {
		key := positionKey(marketID, sub)
		h, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil || len(h) == 0 {
			continue
		}

		isLong, err := strconv.ParseBool(h["is_long"])
		if err != nil {
			continue
		}
		quantity, err1 := strconv.ParseFloat(h["quantity"], 64)
		entryPrice, err2 := strconv.ParseFloat(h["entry_price"], 64)
		margin, err3 := strconv.ParseFloat(h["margin"], 64)
		entryFunding, _ := strconv.ParseFloat(h["cumulative_funding_entry"], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		if quantity <= 0 || entryPrice <= 0 || margin <= 0 {
			continue
		}

		liqPrice := liquidation.Price(isLong, entryPrice, margin, quantity, state.mmr, state.cumulativeFunding, entryFunding)
		liquidatable := liquidation.Liquidatable(isLong, state.markPrice, liqPrice)

		err = s.rdb.HSet(ctx, key, map[string]any{
			"liquidation_price": formatFloat(liqPrice),
			"is_liquidatable":   strconv.FormatBool(liquidatable),
			"mark_price":        formatFloat(state.markPrice),
		}).Err()
		if err != nil {
			s.logger.Error("update position", "market", marketID, "subaccount", sub, "error", err)
			continue
		}

		newly := s.updateLiquidatableSet(ctx, marketID, sub, liquidatable)
		if newly {
			s.emitAlert(ctx, Alert{
				MarketID:         marketID,
				SubaccountID:     sub,
				IsLong:           isLong,
				LiquidationPrice: liqPrice,
				MarkPrice:        state.markPrice,
				Quantity:         quantity,
				EntryPrice:       entryPrice,
				Margin:           margin,
			})
		}
	}
}

// updateLiquidatableSet keeps liquidatable_positions in sync with the
// position record and reports whether the position just became
// liquidatable.
func (s *Sink) updateLiquidatableSet(ctx context.Context, marketID, subaccountID string, liquidatable bool) bool {
	member := marketID + ":" + subaccountID
	was, err := s.rdb.SIsMember(ctx, keyLiquidatableSet, member).Result()
	if err != nil {
		s.logger.Error("check liquidatable set", "member", member, "error", err)
		return false
	}
	switch {
	case liquidatable && !was:
		s.rdb.SAdd(ctx, keyLiquidatableSet, member)
		return true
	case !liquidatable && was:
		s.rdb.SRem(ctx, keyLiquidatableSet, member)
	}
	return false
}

// emitAlert broadcasts on the legacy channel and through the typed fan-out.
func (s *Sink) emitAlert(ctx context.Context, a Alert) {
	metrics.LiquidationAlerts.Inc()
	s.logger.Warn("position liquidatable",
		"market", a.MarketID, "subaccount", a.SubaccountID,
		"liquidation_price", a.LiquidationPrice, "mark_price", a.MarkPrice)

	if data, err := json.Marshal(a); err == nil {
		if err := s.rdb.Publish(ctx, alertChannel, data).Err(); err != nil {
			s.logger.Warn("legacy alert publish", "error", err)
		}
	}
	if err := s.pub.PublishEvent(pubsub.NewLiquidationAlert(a)); err != nil {
		s.logger.Warn("alert fan-out", "error", err)
	}
}
