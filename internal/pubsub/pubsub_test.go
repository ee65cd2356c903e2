package pubsub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testService(t *testing.T, mr *miniredis.Miniredis, cfg Config) *Service {
	t.Helper()
	pool := make([]*redis.Client, 0, cfg.PoolSize)
	for i := 0; i < cfg.PoolSize; i++ {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { c.Close() })
		pool = append(pool, c)
	}
	return NewWithPool(cfg, pool, testLogger())
}

func TestChannelForSharding(t *testing.T) {
	t.Parallel()

	if got := ChannelFor("inj:exchange", true, LiquidationAlert); got != "inj:exchange:LiquidationAlert" {
		t.Errorf("sharded channel = %q", got)
	}
	if got := ChannelFor("inj:exchange", false, LiquidationAlert); got != "inj:exchange" {
		t.Errorf("flat channel = %q", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	for _, binary := range []bool{true, false} {
		in := []*Event{
			NewPriceUpdate("0xm1", 101.5),
			NewMarketUpdate(map[string]any{"market_id": "0xm2"}),
		}
		data, err := encodeEvents(in, binary)
		if err != nil {
			t.Fatalf("encode (binary=%v): %v", binary, err)
		}
		out, err := decodeEvents(data, binary)
		if err != nil {
			t.Fatalf("decode (binary=%v): %v", binary, err)
		}
		if len(out) != 2 || out[0].EventType != PriceUpdate || out[1].EventType != MarketUpdate {
			t.Errorf("round trip (binary=%v) = %+v", binary, out)
		}
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := testService(t, mr, Config{
		Prefix: "inj:exchange", Sharded: true, Binary: true,
		QueueSize: 100, PoolSize: 2, Workers: 2,
	})
	svc.Start(ctx)

	subClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer subClient.Close()
	sub := NewSubscriberWithClient(subClient, "inj:exchange", true, true, 5, testLogger())
	events := sub.Events(ctx)

	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case e := <-events:
			if e.EventType != PriceUpdate {
				t.Fatalf("EventType = %v, want PriceUpdate", e.EventType)
			}
			return
		case <-ticker.C:
			// republish until the subscription is live
			if err := svc.PublishEvent(NewPriceUpdate("0xm1", 99.5)); err != nil {
				t.Fatalf("PublishEvent: %v", err)
			}
		case <-deadline:
			t.Fatal("no event delivered")
		}
	}
}

func TestPublishBatchGroupsByChannel(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	svc := testService(t, mr, Config{
		Prefix: "inj:exchange", Sharded: true, Binary: false,
		QueueSize: 100, PoolSize: 1, Workers: 1,
	})

	err := svc.PublishEventsBatch([]*Event{
		NewPriceUpdate("0xm1", 1),
		NewPriceUpdate("0xm2", 2),
		NewMarketUpdate(nil),
	})
	if err != nil {
		t.Fatalf("PublishEventsBatch: %v", err)
	}
	// two channels, so two queued payloads
	if got := svc.stats.QueueDepth.Load(); got != 2 {
		t.Errorf("queue depth = %d, want 2", got)
	}
}

func TestPublishBackpressure(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	svc := testService(t, mr, Config{
		Prefix: "inj:exchange", Sharded: false, Binary: false,
		QueueSize: 1, PoolSize: 1, Workers: 1,
	})
	// workers never started, so the queue fills

	if err := svc.PublishEvent(NewPriceUpdate("0xm1", 1)); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	err := svc.PublishEvent(NewPriceUpdate("0xm2", 2))
	if !errors.Is(err, ErrBackpressure) {
		t.Errorf("second publish = %v, want ErrBackpressure", err)
	}
	if got := svc.stats.Errors.Load(); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestMetricsMovingAverage(t *testing.T) {
	t.Parallel()

	var m Metrics
	m.observePublish(100 * time.Microsecond)
	if got := m.AvgPublishMicros.Load(); got != 100 {
		t.Errorf("first sample avg = %d, want 100", got)
	}
	m.observePublish(200 * time.Microsecond)
	if got := m.AvgPublishMicros.Load(); got != 110 {
		t.Errorf("avg after second sample = %d, want 110", got)
	}
	if got := m.MaxPublishMicros.Load(); got != 200 {
		t.Errorf("max = %d, want 200", got)
	}
}
