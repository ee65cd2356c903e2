// Package cachesink applies log envelopes to the redis hot cache. The sink
// starts in the Markets phase: only market catalog envelopes are processed
// and everything else is deferred, because liquidation math needs market
// state (maintenance margin, mark price, cumulative funding) before any
// position can be priced. Once the first market batch is fully absorbed the
// sink flips to Others, drains the deferred queue in arrival order, and
// processes everything inline from then on.
package cachesink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"injective-pipeline/internal/pubsub"
	"injective-pipeline/pkg/types"
)

const (
	keyMarketsSet      = "markets:derivative"
	keyLiquidatableSet = "liquidatable_positions"
	keyProcessingPhase = "processing_phase"
	keyMarketsReady    = "markets_ready"

	// legacy broadcast channel, kept alongside the typed pubsub events
	alertChannel = "liquidation_alerts"
)

func marketKey(marketID string) string {
	return "market:derivative:" + marketID
}

func positionKey(marketID, subaccountID string) string {
	return "position:" + marketID + ":" + subaccountID
}

func marketPositionsKey(marketID string) string {
	return "positions:market:" + marketID
}

func subaccountPositionsKey(subaccountID string) string {
	return "positions:subaccount:" + subaccountID
}

func orderbookSummaryKey(marketID string) string {
	return "orderbook:summary:" + marketID
}

func balanceKey(subaccountID, denom string) string {
	return "balance:" + subaccountID + ":" + denom
}

type phase int

const (
	phaseMarkets phase = iota
	phaseOthers
)

// Publisher is the fan-out surface the sink needs. *pubsub.Service
// implements it.
type Publisher interface {
	PublishEvent(e *pubsub.Event) error
	PublishEventsBatch(events []*pubsub.Event) error
}

// Sink is the cache-side processor. Safe for a single consumer goroutine;
// the mutex only guards the phase state and is never held across redis or
// pubsub calls.
type Sink struct {
	rdb    redis.Cmdable
	pub    Publisher
	ttl    time.Duration
	logger *slog.Logger

	mu               sync.Mutex
	phase            phase
	pending          map[string]struct{}
	deferred         []*types.Envelope
	processedMarkets int
}

func New(rdb redis.Cmdable, pub Publisher, ttl time.Duration, logger *slog.Logger) *Sink {
	return &Sink{
		rdb:     rdb,
		pub:     pub,
		ttl:     ttl,
		logger:  logger.With("component", "cachesink"),
		phase:   phaseMarkets,
		pending: make(map[string]struct{}),
	}
}

// Bootstrap persists the initial phase markers. A failure here is fatal at
// startup: an unreachable cache means the sink cannot do anything useful.
func (s *Sink) Bootstrap(ctx context.Context) error {
	if err := s.rdb.Set(ctx, keyProcessingPhase, "markets", 0).Err(); err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, keyMarketsReady, "false", 0).Err(); err != nil {
		return err
	}
	s.logger.Info("cache sink bootstrapped", "phase", "markets")
	return nil
}

// Process applies one envelope. Satisfies consume.Processor.
func (s *Sink) Process(ctx context.Context, e *types.Envelope) error {
	if e.MessageType == types.TypeDerivativeMarket {
		return s.processMarkets(ctx, e)
	}

	s.mu.Lock()
	if s.phase == phaseMarkets {
		s.deferred = append(s.deferred, e)
		n := len(s.deferred)
		s.mu.Unlock()
		s.logger.Debug("deferring until markets ready", "type", e.MessageType, "queued", n)
		return nil
	}
	s.mu.Unlock()

	return s.processOther(ctx, e)
}

func (s *Sink) processMarkets(ctx context.Context, e *types.Envelope) error {
	markets := e.Payload.DerivativeMarkets

	s.mu.Lock()
	if s.phase == phaseMarkets {
		for _, m := range markets {
			s.pending[m.MarketID] = struct{}{}
		}
	}
	s.mu.Unlock()

	var updates []*pubsub.Event
	for _, m := range markets {
		update, err := s.applyMarket(ctx, m)

		s.mu.Lock()
		delete(s.pending, m.MarketID)
		if err == nil {
			s.processedMarkets++
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("skipping market", "market", m.MarketID, "error", err)
			continue
		}
		updates = append(updates, update)
	}

	s.maybeTransition(ctx)

	if len(updates) > 0 {
		if err := s.pub.PublishEventsBatch(updates); err != nil {
			s.logger.Warn("market update fan-out", "error", err)
		}
	}
	s.logger.Info("markets applied", "height", e.BlockHeight, "count", len(updates))
	return nil
}

// maybeTransition flips Markets to Others exactly once, when the pending
// set is empty and at least one market has been absorbed. Deferred
// envelopes drain in arrival order through the normal processing path.
func (s *Sink) maybeTransition(ctx context.Context) {
	s.mu.Lock()
	if s.phase != phaseMarkets || len(s.pending) != 0 || s.processedMarkets == 0 {
		s.mu.Unlock()
		return
	}
	s.phase = phaseOthers
	drained := s.deferred
	s.deferred = nil
	processedCount := s.processedMarkets
	s.mu.Unlock()

	// The phase markers are advisory for readers; the in-process phase is
	// the source of truth. A failed write must not stop the drain, or the
	// deferred envelopes are lost with their offsets already committed.
	if err := s.rdb.Set(ctx, keyMarketsReady, "true", 0).Err(); err != nil {
		s.logger.Error("persist markets_ready marker", "error", err)
	}
	if err := s.rdb.Set(ctx, keyProcessingPhase, "others", 0).Err(); err != nil {
		s.logger.Error("persist processing_phase marker", "error", err)
	}

	marketCount, err := s.rdb.SCard(ctx, keyMarketsSet).Result()
	if err != nil {
		marketCount = int64(processedCount)
	}

	s.logger.Info("markets ready, draining deferred queue",
		"processed", processedCount, "markets", marketCount, "deferred", len(drained))
	for _, e := range drained {
		if err := s.processOther(ctx, e); err != nil {
			s.logger.Error("drain deferred envelope", "type", e.MessageType, "error", err)
		}
	}

	event := pubsub.NewEvent(pubsub.SystemEvent, map[string]any{
		"event":           "markets_ready",
		"processed_count": processedCount,
		"market_count":    marketCount,
	})
	if err := s.pub.PublishEvent(event); err != nil {
		s.logger.Warn("markets_ready fan-out", "error", err)
	}
}

func (s *Sink) processOther(ctx context.Context, e *types.Envelope) error {
	switch e.MessageType {
	case types.TypeExchangePosition:
		return s.applyPositions(ctx, e.Payload.ExchangePositions)
	case types.TypeStreamPosition:
		return s.applyPositions(ctx, e.Payload.StreamPositions)
	case types.TypeExchangeBalance:
		return s.applyExchangeBalances(ctx, e.Payload.ExchangeBalances, e.BlockHeight)
	case types.TypeStreamSubaccountDeposit:
		return s.applyDeposits(ctx, e.Payload.StreamSubaccountDeposits, e.BlockHeight)
	case types.TypeStreamBankBalance:
		return s.applyBankBalances(ctx, e.Payload.StreamBankBalances, e.BlockHeight)
	case types.TypeDerivativeL3Orderbook:
		return s.applyOrderbookSummaries(ctx, e.Payload.DerivativeL3Orderbooks)
	case types.TypeSpotTrade:
		return s.publishTrades(len(e.Payload.SpotTrades), func(i int) any { return e.Payload.SpotTrades[i] })
	case types.TypeDerivativeTrade:
		return s.publishTrades(len(e.Payload.DerivativeTrades), func(i int) any { return e.Payload.DerivativeTrades[i] })
	case types.TypeStreamSpotOrderbook:
		return s.publishOrderbookUpdates(e.Payload.StreamSpotOrderbooks)
	case types.TypeStreamDerivativeOrderbook:
		return s.publishOrderbookUpdates(e.Payload.StreamDerivativeOrderbooks)
	case types.TypeStreamOraclePrice:
		return s.publishOraclePrices(e.Payload.StreamOraclePrices)
	default:
		// order lifecycle feeds have no cache projection
		s.logger.Debug("no cache rule for envelope", "type", e.MessageType)
		return nil
	}
}

func (s *Sink) expire(ctx context.Context, key string) {
	if s.ttl > 0 {
		s.rdb.Expire(ctx, key, s.ttl)
	}
}
