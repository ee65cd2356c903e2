// Package heartbeat snapshots global exchange state on a fixed interval:
// the active market catalog, all open positions, optionally all balances,
// and every active market's full L3 orderbook. Stream feeds are
// update-oriented; these periodic resyncs repair whatever partial updates
// were missed across reconnects.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"injective-pipeline/internal/chain"
	"injective-pipeline/pkg/types"
)

// orderbookFetchParallelism bounds concurrent L3 book queries per tick.
const orderbookFetchParallelism = 8

// Querier is the query-side surface the poller needs. chain.Client
// implements it.
type Querier interface {
	LatestBlockHeight(ctx context.Context) (uint64, error)
	DerivativeMarkets(ctx context.Context, status string) ([]chain.FullDerivativeMarket, error)
	Positions(ctx context.Context) ([]chain.DerivativePosition, error)
	ExchangeBalances(ctx context.Context) ([]chain.Balance, error)
	FullDerivativeOrderbook(ctx context.Context, marketID string) (*chain.QueryFullDerivativeOrderbookResponse, error)
}

// Sender is the producer-facing surface the poller needs.
type Sender interface {
	LatestBlock() uint64
	SendBatchCurrentOnly(ctx context.Context, records []*types.Envelope) []error
}

// Heartbeat runs the snapshot loop. Ticks are serial: a slow tick delays
// the next one rather than overlapping it.
type Heartbeat struct {
	querier         Querier
	sender          Sender
	interval        time.Duration
	includeBalances bool
	logger          *slog.Logger

	now func() time.Time // wall clock, swappable in tests
}

func New(querier Querier, sender Sender, interval time.Duration, includeBalances bool, logger *slog.Logger) *Heartbeat {
	return &Heartbeat{
		querier:         querier,
		sender:          sender,
		interval:        interval,
		includeBalances: includeBalances,
		logger:          logger.With("component", "heartbeat"),
		now:             time.Now,
	}
}

// Run ticks immediately, then on every interval until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.Tick(ctx); err != nil {
		h.logger.Warn("heartbeat tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := h.Tick(ctx); err != nil {
				h.logger.Warn("heartbeat tick failed", "error", err)
			}
		}
	}
}

// Tick takes one full snapshot and submits it. All envelopes from one tick
// carry the chain tip observed at tick start; block_time is wall clock
// because the status query carries no timestamp.
func (h *Heartbeat) Tick(ctx context.Context) error {
	height, err := h.querier.LatestBlockHeight(ctx)
	if err != nil {
		height = h.sender.LatestBlock()
		h.logger.Warn("status query failed, using producer tip", "error", err, "tip", height)
	}
	blockTime := uint64(h.now().UnixMilli())

	markets, err := h.querier.DerivativeMarkets(ctx, types.MarketStatusActive)
	if err != nil {
		return err
	}

	var records []*types.Envelope

	if len(markets) > 0 {
		payload := make([]types.DerivativeMarket, 0, len(markets))
		for _, m := range markets {
			payload = append(payload, convertMarket(m))
		}
		records = append(records, &types.Envelope{
			MessageType: types.TypeDerivativeMarket,
			BlockHeight: height,
			BlockTime:   blockTime,
			Payload:     types.Payload{DerivativeMarkets: payload},
		})
	}

	positions, err := h.querier.Positions(ctx)
	if err != nil {
		return err
	}
	if len(positions) > 0 {
		payload := make([]types.Position, 0, len(positions))
		for _, p := range positions {
			payload = append(payload, convertPosition(p))
		}
		records = append(records, &types.Envelope{
			MessageType: types.TypeExchangePosition,
			BlockHeight: height,
			BlockTime:   blockTime,
			Payload:     types.Payload{ExchangePositions: payload},
		})
	}

	if h.includeBalances {
		balances, err := h.querier.ExchangeBalances(ctx)
		if err != nil {
			return err
		}
		if len(balances) > 0 {
			payload := make([]types.ExchangeBalance, 0, len(balances))
			for _, b := range balances {
				payload = append(payload, convertBalance(b))
			}
			records = append(records, &types.Envelope{
				MessageType: types.TypeExchangeBalance,
				BlockHeight: height,
				BlockTime:   blockTime,
				Payload:     types.Payload{ExchangeBalances: payload},
			})
		}
	}

	books, err := h.fetchOrderbooks(ctx, markets, blockTime)
	if err != nil {
		return err
	}
	if len(books) > 0 {
		records = append(records, &types.Envelope{
			MessageType: types.TypeDerivativeL3Orderbook,
			BlockHeight: height,
			BlockTime:   blockTime,
			Payload:     types.Payload{DerivativeL3Orderbooks: books},
		})
	}

	if len(records) == 0 {
		return nil
	}

	results := h.sender.SendBatchCurrentOnly(ctx, records)
	failed := 0
	for _, err := range results {
		if err != nil {
			failed++
		}
	}
	h.logger.Info("heartbeat snapshot sent",
		"height", height,
		"markets", len(markets),
		"positions", len(positions),
		"orderbooks", len(books),
		"failed", failed,
	)
	return nil
}

// fetchOrderbooks pulls every active market's L3 book concurrently and
// gathers them into a single payload list. A failed fetch skips its market
// rather than failing the tick.
func (h *Heartbeat) fetchOrderbooks(ctx context.Context, markets []chain.FullDerivativeMarket, blockTime uint64) ([]types.OrderbookL3, error) {
	var (
		mu    sync.Mutex
		books []types.OrderbookL3
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(orderbookFetchParallelism)

	for _, m := range markets {
		if m.Market == nil {
			continue
		}
		marketID := m.Market.MarketID
		g.Go(func() error {
			book, err := h.querier.FullDerivativeOrderbook(gctx, marketID)
			if err != nil {
				h.logger.Warn("orderbook fetch failed", "market", marketID, "error", err)
				return nil
			}
			mu.Lock()
			books = append(books, convertOrderbook(marketID, book, int64(blockTime)))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return books, nil
}
