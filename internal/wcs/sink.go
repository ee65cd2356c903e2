// Package wcs persists envelopes to a ScyllaDB wide-column store. Unlike
// the cache sink there is no phase machine: every envelope is written as it
// arrives, and read-side joins on block_height reconstruct consistent
// views. Schemas favor (market_id, subaccount_id)-scoped and
// market_id-scoped queries, clustered newest-first.
package wcs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"injective-pipeline/internal/liquidation"
	"injective-pipeline/pkg/types"
)

// recomputeLimit caps how many positions one market update re-prices.
const recomputeLimit = 1000

type Config struct {
	Nodes    []string
	Keyspace string
}

type Sink struct {
	session *gocql.Session
	logger  *slog.Logger
}

// New connects, ensures the keyspace and tables exist, and returns the
// sink. Any failure here is fatal at startup.
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	cluster := gocql.NewCluster(cfg.Nodes...)
	cluster.Timeout = 10 * time.Second

	sys, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect scylla: %w", err)
	}
	err = sys.Query(keyspaceStatement(cfg.Keyspace)).Exec()
	sys.Close()
	if err != nil {
		return nil, fmt.Errorf("create keyspace %s: %w", cfg.Keyspace, err)
	}

	cluster.Keyspace = cfg.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect keyspace %s: %w", cfg.Keyspace, err)
	}
	for _, ddl := range tableDDL {
		if err := session.Query(ddl).Exec(); err != nil {
			session.Close()
			return nil, fmt.Errorf("create table: %w", err)
		}
	}
	logger.Info("wide-column store ready", "keyspace", cfg.Keyspace, "tables", len(tableDDL))
	return &Sink{session: session, logger: logger.With("component", "wcs")}, nil
}

func (s *Sink) Close() {
	s.session.Close()
}

// Process applies one envelope. Satisfies consume.Processor. Feeds without
// a table projection are skipped.
func (s *Sink) Process(ctx context.Context, e *types.Envelope) error {
	switch e.MessageType {
	case types.TypeDerivativeMarket:
		return s.processMarkets(ctx, e)
	case types.TypeExchangePosition:
		return s.processPositions(ctx, e.Payload.ExchangePositions, e.BlockHeight, e.BlockTime)
	case types.TypeStreamPosition:
		return s.processPositions(ctx, e.Payload.StreamPositions, e.BlockHeight, e.BlockTime)
	case types.TypeExchangeBalance:
		return s.processBalances(ctx, e.Payload.ExchangeBalances, e.BlockHeight, e.BlockTime)
	case types.TypeStreamSubaccountDeposit:
		return s.processDeposits(ctx, e.Payload.StreamSubaccountDeposits, e.BlockHeight, e.BlockTime)
	case types.TypeDerivativeL3Orderbook:
		return s.processOrderbooks(ctx, e.Payload.DerivativeL3Orderbooks, e.BlockHeight)
	default:
		return nil
	}
}

func (s *Sink) processMarkets(ctx context.Context, e *types.Envelope) error {
	for _, m := range e.Payload.DerivativeMarkets {
		row, err := buildMarketRow(m, e.BlockHeight, e.BlockTime)
		if err != nil {
			s.logger.Warn("skipping market", "market", m.MarketID, "error", err)
			continue
		}
		err = s.session.Query(
			`INSERT INTO markets (market_id, block_height, block_time, ticker, status, is_perpetual,
				mark_price, maintenance_margin_ratio, initial_margin_ratio, cumulative_funding,
				min_price_tick, min_quantity_tick, min_notional)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.MarketID, row.BlockHeight, row.BlockTime, row.Ticker, row.Status, row.IsPerpetual,
			row.MarkPrice, row.MMR, row.IMR, row.CumulativeFunding,
			row.MinPriceTick, row.MinQuantityTick, row.MinNotional,
		).WithContext(ctx).Exec()
		if err != nil {
			s.logger.Error("insert market", "market", m.MarketID, "error", err)
			continue
		}
		s.recomputeMarketPositions(ctx, row.view(), m.MarketID)
	}
	return nil
}

// recomputeMarketPositions re-prices recent positions of a market against
// fresh market state. Stored values are already scaled.
func (s *Sink) recomputeMarketPositions(ctx context.Context, mkt marketView, marketID string) {
	iter := s.session.Query(
		`SELECT subaccount_id, block_height, is_long, quantity, entry_price, margin, cumulative_funding_entry
		FROM market_positions WHERE market_id = ? LIMIT ?`,
		marketID, recomputeLimit,
	).WithContext(ctx).Iter()

	var (
		subaccountID string
		blockHeight  int64
		isLong       bool
		quantity     float64
		entryPrice   float64
		margin       float64
		entryFunding float64
	)
	for iter.Scan(&subaccountID, &blockHeight, &isLong, &quantity, &entryPrice, &margin, &entryFunding) {
		if quantity <= 0 || entryPrice <= 0 || margin <= 0 {
			continue
		}
		liqPrice := liquidation.Price(isLong, entryPrice, margin, quantity, mkt.MMR, mkt.CumulativeFunding, entryFunding)
		liquidatable := liquidation.Liquidatable(isLong, mkt.MarkPrice, liqPrice)

		err := s.session.Query(
			`UPDATE positions SET liquidation_price = ?, is_liquidatable = ?, mark_price = ?
			WHERE market_id = ? AND subaccount_id = ? AND block_height = ?`,
			liqPrice, liquidatable, mkt.MarkPrice, marketID, subaccountID, blockHeight,
		).WithContext(ctx).Exec()
		if err != nil {
			s.logger.Error("update position", "market", marketID, "subaccount", subaccountID, "error", err)
			continue
		}
		err = s.session.Query(
			`UPDATE market_positions SET liquidation_price = ?, is_liquidatable = ?, mark_price = ?
			WHERE market_id = ? AND subaccount_id = ? AND block_height = ?`,
			liqPrice, liquidatable, mkt.MarkPrice, marketID, subaccountID, blockHeight,
		).WithContext(ctx).Exec()
		if err != nil {
			s.logger.Error("update market position", "market", marketID, "subaccount", subaccountID, "error", err)
		}
		s.maintainLiquidatable(ctx, marketID, subaccountID, isLong, liqPrice, mkt.MarkPrice, liquidatable)
	}
	if err := iter.Close(); err != nil {
		s.logger.Error("scan market positions", "market", marketID, "error", err)
	}
}

func (s *Sink) maintainLiquidatable(ctx context.Context, marketID, subaccountID string, isLong bool, liqPrice, markPrice float64, liquidatable bool) {
	var err error
	if liquidatable {
		err = s.session.Query(
			`INSERT INTO liquidatable_positions (market_id, subaccount_id, is_long, liquidation_price, mark_price, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			marketID, subaccountID, isLong, liqPrice, markPrice, time.Now().UTC(),
		).WithContext(ctx).Exec()
	} else {
		err = s.session.Query(
			`DELETE FROM liquidatable_positions WHERE market_id = ? AND subaccount_id = ?`,
			marketID, subaccountID,
		).WithContext(ctx).Exec()
	}
	if err != nil {
		s.logger.Error("maintain liquidatable row", "market", marketID, "subaccount", subaccountID, "error", err)
	}
}

// latestMarketView reads the newest market row. A market never seen yields
// a zero view: the position is still stored, just never flagged.
func (s *Sink) latestMarketView(ctx context.Context, marketID string) marketView {
	var v marketView
	err := s.session.Query(
		`SELECT mark_price, maintenance_margin_ratio, cumulative_funding FROM markets WHERE market_id = ? LIMIT 1`,
		marketID,
	).WithContext(ctx).Scan(&v.MarkPrice, &v.MMR, &v.CumulativeFunding)
	if err != nil && err != gocql.ErrNotFound {
		s.logger.Error("load latest market", "market", marketID, "error", err)
	}
	return v
}

func (s *Sink) processPositions(ctx context.Context, positions []types.Position, height, blockTime uint64) error {
	for _, p := range positions {
		mkt := s.latestMarketView(ctx, p.MarketID)
		row, ok := buildPositionRow(p, height, blockTime, mkt)
		if !ok {
			s.logger.Debug("skipping position", "market", p.MarketID, "subaccount", p.SubaccountID)
			continue
		}

		err := s.session.Query(
			`INSERT INTO positions (market_id, subaccount_id, block_height, block_time, is_long, quantity,
				entry_price, margin, cumulative_funding_entry, liquidation_price, is_liquidatable, mark_price)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.MarketID, row.SubaccountID, row.BlockHeight, row.BlockTime, row.IsLong, row.Quantity,
			row.EntryPrice, row.Margin, row.EntryFunding, row.LiquidationPrice, row.IsLiquidatable, row.MarkPrice,
		).WithContext(ctx).Exec()
		if err != nil {
			s.logger.Error("insert position", "market", p.MarketID, "subaccount", p.SubaccountID, "error", err)
			continue
		}
		err = s.session.Query(
			`INSERT INTO market_positions (market_id, subaccount_id, block_height, block_time, is_long, quantity,
				entry_price, margin, cumulative_funding_entry, liquidation_price, is_liquidatable, mark_price)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.MarketID, row.SubaccountID, row.BlockHeight, row.BlockTime, row.IsLong, row.Quantity,
			row.EntryPrice, row.Margin, row.EntryFunding, row.LiquidationPrice, row.IsLiquidatable, row.MarkPrice,
		).WithContext(ctx).Exec()
		if err != nil {
			s.logger.Error("insert market position", "market", p.MarketID, "subaccount", p.SubaccountID, "error", err)
		}
		err = s.session.Query(
			`INSERT INTO positions_by_subaccount (subaccount_id, block_height, market_id, block_time, is_long,
				quantity, entry_price, margin, liquidation_price, is_liquidatable)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.SubaccountID, row.BlockHeight, row.MarketID, row.BlockTime, row.IsLong,
			row.Quantity, row.EntryPrice, row.Margin, row.LiquidationPrice, row.IsLiquidatable,
		).WithContext(ctx).Exec()
		if err != nil {
			s.logger.Error("insert subaccount position", "subaccount", p.SubaccountID, "error", err)
		}
		s.maintainLiquidatable(ctx, row.MarketID, row.SubaccountID, row.IsLong, row.LiquidationPrice, row.MarkPrice, row.IsLiquidatable)
	}
	return nil
}

func (s *Sink) processBalances(ctx context.Context, balances []types.ExchangeBalance, height, blockTime uint64) error {
	for _, b := range balances {
		s.writeBalance(ctx, b.SubaccountID, b.Denom, b.AvailableBalance, b.TotalBalance, height, blockTime)
	}
	return nil
}

func (s *Sink) processDeposits(ctx context.Context, deposits []types.SubaccountDeposit, height, blockTime uint64) error {
	for _, d := range deposits {
		s.writeBalance(ctx, d.SubaccountID, d.Denom, d.AvailableBalance, d.TotalBalance, height, blockTime)
	}
	return nil
}

func (s *Sink) writeBalance(ctx context.Context, subaccountID, denom, available, total string, height, blockTime uint64) {
	availableScaled := scaleOrZero(available, liquidation.ScaleQuantity)
	totalScaled := scaleOrZero(total, liquidation.ScaleQuantity)

	err := s.session.Query(
		`INSERT INTO exchange_balances (subaccount_id, denom, block_height, block_time, available_balance, total_balance)
		VALUES (?, ?, ?, ?, ?, ?)`,
		subaccountID, denom, int64(height), int64(blockTime), availableScaled, totalScaled,
	).WithContext(ctx).Exec()
	if err != nil {
		s.logger.Error("insert balance", "subaccount", subaccountID, "denom", denom, "error", err)
		return
	}
	err = s.session.Query(
		`INSERT INTO exchange_balances_by_subaccount (subaccount_id, block_height, denom, block_time, available_balance, total_balance)
		VALUES (?, ?, ?, ?, ?, ?)`,
		subaccountID, int64(height), denom, int64(blockTime), availableScaled, totalScaled,
	).WithContext(ctx).Exec()
	if err != nil {
		s.logger.Error("insert subaccount balance", "subaccount", subaccountID, "denom", denom, "error", err)
	}
}

func (s *Sink) processOrderbooks(ctx context.Context, books []types.OrderbookL3, height uint64) error {
	for _, book := range books {
		id := gocql.UUID(uuid.New())
		bestBid, bestAsk, mid := topOfBook(book)

		err := s.session.Query(
			`INSERT INTO orderbook_snapshots (market_id, timestamp, orderbook_id, block_height, bid_count, ask_count, best_bid, best_ask, mid_price)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			book.MarketID, book.Timestamp, id, int64(height), len(book.Bids), len(book.Asks), bestBid, bestAsk, mid,
		).WithContext(ctx).Exec()
		if err != nil {
			s.logger.Error("insert orderbook snapshot", "market", book.MarketID, "error", err)
			continue
		}

		s.insertOrders(ctx, id, true, book.Bids)
		s.insertOrders(ctx, id, false, book.Asks)

		date, hour := statsBucket(book.Timestamp)
		err = s.session.Query(
			`INSERT INTO market_statistics (market_id, date, hour, best_bid, best_ask, mid_price, bid_orders, ask_orders, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			book.MarketID, date, hour, bestBid, bestAsk, mid, len(book.Bids), len(book.Asks), time.Now().UTC(),
		).WithContext(ctx).Exec()
		if err != nil {
			s.logger.Error("upsert market statistics", "market", book.MarketID, "error", err)
		}
	}
	return nil
}

func (s *Sink) insertOrders(ctx context.Context, id gocql.UUID, isBid bool, orders []types.LimitOrder) {
	for _, o := range orders {
		price := scaleOrZero(o.Price, liquidation.ScalePrice)
		quantity := scaleOrZero(o.Quantity, liquidation.ScaleQuantity)
		err := s.session.Query(
			`INSERT INTO orderbook_orders (orderbook_id, is_bid, price, order_hash, quantity, subaccount_id)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, isBid, price, o.OrderHash, quantity, o.SubaccountID,
		).WithContext(ctx).Exec()
		if err != nil {
			s.logger.Error("insert order row", "order", o.OrderHash, "error", err)
		}
	}
}
