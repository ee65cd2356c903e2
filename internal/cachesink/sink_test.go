package cachesink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"injective-pipeline/internal/pubsub"
	"injective-pipeline/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capturePublisher struct {
	mu     sync.Mutex
	events []*pubsub.Event
}

func (p *capturePublisher) PublishEvent(e *pubsub.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) PublishEventsBatch(events []*pubsub.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *capturePublisher) byType(t pubsub.EventType) []*pubsub.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*pubsub.Event
	for _, e := range p.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestSink(t *testing.T) (*Sink, *miniredis.Miniredis, *capturePublisher) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	pub := &capturePublisher{}
	sink := New(client, pub, 0, testLogger())
	if err := sink.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return sink, mr, pub
}

// 100 at the chain's 1e24 price scale
const markPrice100 = "100000000000000000000000000"

func marketEnvelope(markPrice string) *types.Envelope {
	return &types.Envelope{
		MessageType: types.TypeDerivativeMarket,
		BlockHeight: 10,
		BlockTime:   10000,
		Payload: types.Payload{DerivativeMarkets: []types.DerivativeMarket{{
			MarketID:               "0xm1",
			Ticker:                 "INJ/USDT PERP",
			Status:                 types.MarketStatusActive,
			MaintenanceMarginRatio: "50000000000000000", // 0.05
			MarkPrice:              markPrice,
			CumulativeFunding:      "0",
			IsPerpetual:            true,
		}}},
	}
}

func positionEnvelope() *types.Envelope {
	return &types.Envelope{
		MessageType: types.TypeExchangePosition,
		BlockHeight: 11,
		BlockTime:   11000,
		Payload: types.Payload{ExchangePositions: []types.Position{{
			MarketID:     "0xm1",
			SubaccountID: "0xs1",
			IsLong:       true,
			// quantity 1, entry 100, margin 10 at chain scale
			Quantity:   "1000000000000000000",
			EntryPrice: markPrice100,
			Margin:     "10000000000000000000000000",
		}}},
	}
}

func isMember(t *testing.T, mr *miniredis.Miniredis, key, member string) bool {
	t.Helper()
	ok, err := mr.SIsMember(key, member)
	if err != nil {
		// a set that was never created reads as empty
		return false
	}
	return ok
}

func hashFloat(t *testing.T, mr *miniredis.Miniredis, key, field string) float64 {
	t.Helper()
	v := mr.HGet(key, field)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		t.Fatalf("field %s of %s = %q, not a float", field, key, v)
	}
	return f
}

func TestPhaseGatingDefersPositions(t *testing.T) {
	t.Parallel()
	sink, mr, pub := newTestSink(t)
	ctx := context.Background()

	if err := sink.Process(ctx, positionEnvelope()); err != nil {
		t.Fatalf("Process(position): %v", err)
	}
	if mr.Exists("position:0xm1:0xs1") {
		t.Fatal("position written during markets phase")
	}

	if err := sink.Process(ctx, marketEnvelope(markPrice100)); err != nil {
		t.Fatalf("Process(market): %v", err)
	}

	if !mr.Exists("position:0xm1:0xs1") {
		t.Fatal("deferred position not drained after markets ready")
	}
	liq := hashFloat(t, mr, "position:0xm1:0xs1", "liquidation_price")
	if liq <= 0 {
		t.Errorf("liquidation_price = %v, want > 0", liq)
	}
	// (100 - 10) / (1 - 0.05)
	if liq < 94.73 || liq > 94.74 {
		t.Errorf("liquidation_price = %v, want ~94.7368", liq)
	}

	if got, _ := mr.Get("processing_phase"); got != "others" {
		t.Errorf("processing_phase = %q, want others", got)
	}
	if got, _ := mr.Get("markets_ready"); got != "true" {
		t.Errorf("markets_ready = %q, want true", got)
	}
	if n := len(pub.byType(pubsub.SystemEvent)); n != 1 {
		t.Errorf("system events = %d, want 1 markets_ready", n)
	}
}

func TestLiquidationFlipEmitsOneAlert(t *testing.T) {
	t.Parallel()
	sink, mr, pub := newTestSink(t)
	ctx := context.Background()

	sink.Process(ctx, marketEnvelope(markPrice100))
	sink.Process(ctx, positionEnvelope())
	if isMember(t, mr, "liquidatable_positions", "0xm1:0xs1") {
		t.Fatal("position liquidatable at mark 100, want safe")
	}

	// mark drops through the ~94.74 liquidation price
	sink.Process(ctx, marketEnvelope("94000000000000000000000000"))

	if !isMember(t, mr, "liquidatable_positions", "0xm1:0xs1") {
		t.Fatal("position not in liquidatable set at mark 94")
	}
	if got := mr.HGet("position:0xm1:0xs1", "is_liquidatable"); got != "true" {
		t.Errorf("is_liquidatable = %q, want true", got)
	}
	if n := len(pub.byType(pubsub.LiquidationAlert)); n != 1 {
		t.Errorf("alerts = %d, want exactly 1", n)
	}

	// re-processing the same mark does not re-alert
	sink.Process(ctx, marketEnvelope("94000000000000000000000000"))
	if n := len(pub.byType(pubsub.LiquidationAlert)); n != 1 {
		t.Errorf("alerts after repeat = %d, want still 1", n)
	}
}

func TestLiquidatableSetClearsOnRecovery(t *testing.T) {
	t.Parallel()
	sink, mr, _ := newTestSink(t)
	ctx := context.Background()

	sink.Process(ctx, marketEnvelope(markPrice100))
	sink.Process(ctx, positionEnvelope())
	sink.Process(ctx, marketEnvelope("94000000000000000000000000"))
	sink.Process(ctx, marketEnvelope(markPrice100))

	if isMember(t, mr, "liquidatable_positions", "0xm1:0xs1") {
		t.Error("position still in liquidatable set after mark recovered")
	}
	if got := mr.HGet("position:0xm1:0xs1", "is_liquidatable"); got != "false" {
		t.Errorf("is_liquidatable = %q, want false", got)
	}
}

func TestTransitionHappensOnce(t *testing.T) {
	t.Parallel()
	sink, mr, pub := newTestSink(t)
	ctx := context.Background()

	sink.Process(ctx, marketEnvelope(markPrice100))
	sink.Process(ctx, marketEnvelope(markPrice100))

	if n := len(pub.byType(pubsub.SystemEvent)); n != 1 {
		t.Errorf("system events = %d, want 1 despite repeated market batches", n)
	}

	// after transition positions apply inline, no deferral
	e := positionEnvelope()
	e.MessageType = types.TypeStreamPosition
	e.Payload = types.Payload{StreamPositions: e.Payload.ExchangePositions}
	sink.Process(ctx, e)
	if !mr.Exists("position:0xm1:0xs1") {
		t.Error("stream position not applied inline in others phase")
	}
}

// flakyMarkerClient fails plain SET commands on demand. The sink only uses
// SET for the phase marker keys, so this simulates a cache hiccup at the
// moment of the Markets to Others transition.
type flakyMarkerClient struct {
	redis.Cmdable
	failSet bool
}

func (c *flakyMarkerClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if c.failSet {
		cmd := redis.NewStatusCmd(ctx)
		cmd.SetErr(errors.New("connection reset by peer"))
		return cmd
	}
	return c.Cmdable.Set(ctx, key, value, expiration)
}

func TestTransitionDrainsDespiteMarkerWriteFailure(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	flaky := &flakyMarkerClient{Cmdable: client}
	pub := &capturePublisher{}
	sink := New(flaky, pub, 0, testLogger())
	ctx := context.Background()

	if err := sink.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	flaky.failSet = true

	if err := sink.Process(ctx, positionEnvelope()); err != nil {
		t.Fatalf("Process(position): %v", err)
	}
	if err := sink.Process(ctx, marketEnvelope(markPrice100)); err != nil {
		t.Fatalf("Process(market): %v", err)
	}

	// Offsets are already committed by the consumer group, so a marker
	// write failure must not drop the deferred queue.
	if !mr.Exists("position:0xm1:0xs1") {
		t.Fatal("deferred position lost after phase marker write failure")
	}
	if n := len(pub.byType(pubsub.SystemEvent)); n != 1 {
		t.Errorf("system events = %d, want 1 markets_ready", n)
	}

	// The sink is in the others phase in-process even though the marker
	// never landed.
	e := positionEnvelope()
	e.MessageType = types.TypeStreamPosition
	e.Payload = types.Payload{StreamPositions: e.Payload.ExchangePositions}
	sink.Process(ctx, e)
	if got, _ := mr.Get("processing_phase"); got == "others" {
		t.Errorf("processing_phase = %q, marker write was supposed to fail", got)
	}
}

func TestPositionForUnknownMarketSkipped(t *testing.T) {
	t.Parallel()
	sink, mr, _ := newTestSink(t)
	ctx := context.Background()

	sink.Process(ctx, marketEnvelope(markPrice100))
	e := positionEnvelope()
	e.Payload.ExchangePositions[0].MarketID = "0xunknown"
	sink.Process(ctx, e)

	if mr.Exists("position:0xunknown:0xs1") {
		t.Error("position stored for a market the cache has never seen")
	}
}

func TestNonPositiveInputsNeverMutate(t *testing.T) {
	t.Parallel()
	sink, mr, _ := newTestSink(t)
	ctx := context.Background()

	sink.Process(ctx, marketEnvelope(markPrice100))
	e := positionEnvelope()
	e.Payload.ExchangePositions[0].Quantity = "0"
	sink.Process(ctx, e)

	if mr.Exists("position:0xm1:0xs1") {
		t.Error("zero-quantity position stored")
	}
	if isMember(t, mr, "liquidatable_positions", "0xm1:0xs1") {
		t.Error("zero-quantity position flagged liquidatable")
	}
}

func TestMarketHashStoresScaledValues(t *testing.T) {
	t.Parallel()
	sink, mr, _ := newTestSink(t)
	ctx := context.Background()

	sink.Process(ctx, marketEnvelope(markPrice100))

	if got := hashFloat(t, mr, "market:derivative:0xm1", "mark_price"); got != 100 {
		t.Errorf("mark_price = %v, want 100", got)
	}
	if got := hashFloat(t, mr, "market:derivative:0xm1", "maintenance_margin_ratio"); got != 0.05 {
		t.Errorf("maintenance_margin_ratio = %v, want 0.05", got)
	}
	if !isMember(t, mr, "markets:derivative", "0xm1") {
		t.Error("market id missing from markets:derivative set")
	}
}

func TestOrderbookSummary(t *testing.T) {
	t.Parallel()
	sink, mr, _ := newTestSink(t)
	ctx := context.Background()

	sink.Process(ctx, marketEnvelope(markPrice100))
	sink.Process(ctx, &types.Envelope{
		MessageType: types.TypeDerivativeL3Orderbook,
		BlockHeight: 12,
		BlockTime:   12000,
		Payload: types.Payload{DerivativeL3Orderbooks: []types.OrderbookL3{{
			MarketID: "0xm1",
			Bids: []types.LimitOrder{
				{Price: "98000000000000000000000000", Quantity: "1", OrderHash: "0xb1"},
				{Price: "99000000000000000000000000", Quantity: "1", OrderHash: "0xb2"},
			},
			Asks: []types.LimitOrder{
				{Price: "102000000000000000000000000", Quantity: "1", OrderHash: "0xa1"},
				{Price: "101000000000000000000000000", Quantity: "1", OrderHash: "0xa2"},
			},
			Timestamp: 12000,
		}}},
	})

	if got := hashFloat(t, mr, "orderbook:summary:0xm1", "best_bid"); got != 99 {
		t.Errorf("best_bid = %v, want 99", got)
	}
	if got := hashFloat(t, mr, "orderbook:summary:0xm1", "best_ask"); got != 101 {
		t.Errorf("best_ask = %v, want 101", got)
	}
	if got := hashFloat(t, mr, "orderbook:summary:0xm1", "mid_price"); got != 100 {
		t.Errorf("mid_price = %v, want 100", got)
	}
}

func TestBalanceProjection(t *testing.T) {
	t.Parallel()
	sink, mr, _ := newTestSink(t)
	ctx := context.Background()

	sink.Process(ctx, marketEnvelope(markPrice100))
	sink.Process(ctx, &types.Envelope{
		MessageType: types.TypeExchangeBalance,
		BlockHeight: 13,
		BlockTime:   13000,
		Payload: types.Payload{ExchangeBalances: []types.ExchangeBalance{{
			SubaccountID:     "0xs1",
			Denom:            "inj",
			AvailableBalance: "5000000000000000000", // 5
			TotalBalance:     "10000000000000000000",
		}}},
	})

	if got := hashFloat(t, mr, "balance:0xs1:inj", "available_balance"); got != 5 {
		t.Errorf("available_balance = %v, want 5", got)
	}
	if got := hashFloat(t, mr, "balance:0xs1:inj", "total_balance"); got != 10 {
		t.Errorf("total_balance = %v, want 10", got)
	}
}

func TestOraclePricesPublished(t *testing.T) {
	t.Parallel()
	sink, _, pub := newTestSink(t)
	ctx := context.Background()

	sink.Process(ctx, marketEnvelope(markPrice100))
	sink.Process(ctx, &types.Envelope{
		MessageType: types.TypeStreamOraclePrice,
		BlockHeight: 14,
		BlockTime:   14000,
		Payload: types.Payload{StreamOraclePrices: []types.OraclePrice{
			{Symbol: "INJ", Price: "25.5", OracleType: "band"},
			{Symbol: "BTC", Price: "garbage", OracleType: "band"},
		}},
	})

	prices := pub.byType(pubsub.PriceUpdate)
	if len(prices) != 1 {
		t.Fatalf("price updates = %d, want 1 (garbage price skipped)", len(prices))
	}
}
