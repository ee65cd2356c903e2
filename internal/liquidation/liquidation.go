// Package liquidation holds the pure margin math shared by the cache and
// wide-column sinks: decimal-string scaling and the liquidation price and
// liquidatable predicates. The package has no I/O; the sinks own the
// bookkeeping around it.
package liquidation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Chain values arrive as fixed-point decimal strings. Price-like quantities
// (mark price, entry price, margin, cumulative funding) carry 24 decimals;
// quantity-like and ratio-like values carry 18.
const (
	priceShift    = -24
	quantityShift = -18
)

// ScalePrice converts a 1e24-scaled decimal string to a float64.
func ScalePrice(s string) (float64, error) {
	return scale(s, priceShift)
}

// ScaleQuantity converts a 1e18-scaled decimal string to a float64.
func ScaleQuantity(s string) (float64, error) {
	return scale(s, quantityShift)
}

// ScaleRatio converts a 1e18-scaled ratio string (e.g. a maintenance margin
// ratio of "50000000000000000" → 0.05) to a float64.
func ScaleRatio(s string) (float64, error) {
	return scale(s, quantityShift)
}

func scale(s string, shift int32) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d.Shift(shift).InexactFloat64(), nil
}

// Price computes the liquidation price for a position. Inputs are already
// scaled. Returns 0 when quantity, entryPrice or mmr is non-positive; such
// positions have no meaningful liquidation level.
//
// The unrealized funding accrued since entry adjusts the effective margin:
// longs pay accrued funding, shorts receive it.
func Price(isLong bool, entryPrice, margin, quantity, mmr, marketFunding, entryFunding float64) float64 {
	if quantity <= 0 || entryPrice <= 0 || mmr <= 0 {
		return 0
	}

	unrealizedFunding := quantity * (marketFunding - entryFunding)

	adjMargin := margin
	if isLong {
		adjMargin -= unrealizedFunding
	} else {
		adjMargin += unrealizedFunding
	}

	unitMargin := adjMargin / quantity
	if isLong {
		return (entryPrice - unitMargin) / (1 - mmr)
	}
	return (entryPrice + unitMargin) / (1 + mmr)
}

// Liquidatable reports whether a position is at or past its liquidation
// level: longs when the mark has fallen to the level, shorts when it has
// risen to it.
func Liquidatable(isLong bool, markPrice, liqPrice float64) bool {
	if isLong {
		return markPrice <= liqPrice
	}
	return markPrice >= liqPrice
}
