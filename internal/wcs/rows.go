package wcs

import (
	"fmt"
	"time"

	"injective-pipeline/internal/liquidation"
	"injective-pipeline/pkg/types"
)

// marketRow is the scaled form written to the markets table.
type marketRow struct {
	MarketID          string
	BlockHeight       int64
	BlockTime         int64
	Ticker            string
	Status            string
	IsPerpetual       bool
	MarkPrice         float64
	MMR               float64
	IMR               float64
	CumulativeFunding float64
	MinPriceTick      float64
	MinQuantityTick   float64
	MinNotional       float64
}

// marketView is the slice of market state the liquidation math reads.
type marketView struct {
	MarkPrice         float64
	MMR               float64
	CumulativeFunding float64
}

func (r marketRow) view() marketView {
	return marketView{MarkPrice: r.MarkPrice, MMR: r.MMR, CumulativeFunding: r.CumulativeFunding}
}

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

// buildMarketRow scales a market payload. Mark price, maintenance margin
// and cumulative funding must parse; the rest degrades to zero.
func buildMarketRow(m types.DerivativeMarket, height, blockTime uint64) (marketRow, error) {
	markPrice, err := liquidation.ScalePrice(m.MarkPrice)
	if err != nil {
		return marketRow{}, fmt.Errorf("mark_price %q: %w", m.MarkPrice, err)
	}
	mmr, err := liquidation.ScaleRatio(m.MaintenanceMarginRatio)
	if err != nil {
		return marketRow{}, fmt.Errorf("maintenance_margin_ratio %q: %w", m.MaintenanceMarginRatio, err)
	}
	cumulativeFunding, err := liquidation.ScalePrice(m.CumulativeFunding)
	if err != nil {
		return marketRow{}, fmt.Errorf("cumulative_funding %q: %w", m.CumulativeFunding, err)
	}
	return marketRow{
		MarketID:          m.MarketID,
		BlockHeight:       int64(height),
		BlockTime:         int64(blockTime),
		Ticker:            m.Ticker,
		Status:            m.Status,
		IsPerpetual:       m.IsPerpetual,
		MarkPrice:         markPrice,
		MMR:               mmr,
		IMR:               scaleOrZero(m.InitialMarginRatio, liquidation.ScaleRatio),
		CumulativeFunding: cumulativeFunding,
		MinPriceTick:      scaleOrZero(m.MinPriceTick, liquidation.ScalePrice),
		MinQuantityTick:   scaleOrZero(m.MinQuantityTick, liquidation.ScaleQuantity),
		MinNotional:       scaleOrZero(m.MinNotional, liquidation.ScaleQuantity),
	}, nil
}

// positionRow is the scaled form written to the position tables.
type positionRow struct {
	MarketID         string
	SubaccountID     string
	BlockHeight      int64
	BlockTime        int64
	IsLong           bool
	Quantity         float64
	EntryPrice       float64
	Margin           float64
	EntryFunding     float64
	LiquidationPrice float64
	IsLiquidatable   bool
	MarkPrice        float64
}

// buildPositionRow scales a position payload and prices it against the
// given market view. Returns ok=false when the inputs cannot produce a
// meaningful row.
func buildPositionRow(p types.Position, height, blockTime uint64, mkt marketView) (positionRow, bool) {
	quantity, err1 := liquidation.ScaleQuantity(p.Quantity)
	entryPrice, err2 := liquidation.ScalePrice(p.EntryPrice)
	margin, err3 := liquidation.ScalePrice(p.Margin)
	if err1 != nil || err2 != nil || err3 != nil {
		return positionRow{}, false
	}
	if quantity <= 0 || entryPrice <= 0 || margin <= 0 {
		return positionRow{}, false
	}
	entryFunding := scaleOrZero(p.CumulativeFundingEntry, liquidation.ScalePrice)

	liqPrice := liquidation.Price(p.IsLong, entryPrice, margin, quantity, mkt.MMR, mkt.CumulativeFunding, entryFunding)
	return positionRow{
		MarketID:         p.MarketID,
		SubaccountID:     p.SubaccountID,
		BlockHeight:      int64(height),
		BlockTime:        int64(blockTime),
		IsLong:           p.IsLong,
		Quantity:         quantity,
		EntryPrice:       entryPrice,
		Margin:           margin,
		EntryFunding:     entryFunding,
		LiquidationPrice: liqPrice,
		IsLiquidatable:   liquidation.Liquidatable(p.IsLong, mkt.MarkPrice, liqPrice),
		MarkPrice:        mkt.MarkPrice,
	}, true
}

// topOfBook reduces an L3 snapshot to best bid, best ask and mid. Snapshots
// are not guaranteed sorted.
func topOfBook(book types.OrderbookL3) (bestBid, bestAsk, mid float64) {
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
	if bestBid > 0 && bestAsk > 0 {
		mid = (bestBid + bestAsk) / 2
	}
	return bestBid, bestAsk, mid
}

// statsBucket maps a millisecond timestamp to the hourly statistics key.
func statsBucket(tsMillis int64) (date string, hour int) {
	t := time.UnixMilli(tsMillis).UTC()
	return t.Format("2006-01-02"), t.Hour()
}
