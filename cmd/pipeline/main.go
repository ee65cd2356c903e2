// Injective market-data pipeline — streams exchange events from an
// Injective node into Kafka and materializes them into a redis hot cache
// and a ScyllaDB wide-column store.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	chain/client.go         — gRPC stream + query clients for the Injective node
//	ingest/ingester.go      — long-lived stream reader: dedup by block height, reconnect with backoff
//	heartbeat/heartbeat.go  — periodic full snapshots: markets, positions, balances, L3 books
//	producer/producer.go    — Kafka producer with batching and a stale-block filter
//	consume/consumer.go     — generic per-sink consumer (cache and wcs groups)
//	cachesink/sink.go       — redis projection with the Markets→Others phase machine
//	liquidation/            — pure liquidation pricing math
//	wcs/sink.go             — ScyllaDB projection, schema-on-startup
//	pubsub/service.go       — redis pub/sub fan-out with a bounded queue and worker pool
//	ops/server.go           — health, prometheus metrics, websocket event tap
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"injective-pipeline/internal/cachesink"
	"injective-pipeline/internal/chain"
	"injective-pipeline/internal/config"
	"injective-pipeline/internal/consume"
	"injective-pipeline/internal/heartbeat"
	"injective-pipeline/internal/ingest"
	"injective-pipeline/internal/ops"
	"injective-pipeline/internal/producer"
	"injective-pipeline/internal/pubsub"
	"injective-pipeline/internal/wcs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prod := producer.New(producer.Config{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.Topic,
		ClientID:    cfg.Kafka.ClientID,
		Mode:        cfg.Kafka.Mode,
		MaxInflight: cfg.Kafka.MaxInflight,
		BatchSize:   cfg.Kafka.BatchSize,
	}, logger)

	client, err := chain.NewClient(cfg.GRPC.StreamEndpoint, cfg.GRPC.QueryEndpoint, "", logger)
	if err != nil {
		logger.Error("failed to connect chain endpoints", "error", err)
		os.Exit(1)
	}

	pubsubSvc, err := pubsub.New(pubsub.Config{
		URL:       cfg.Redis.URL,
		Prefix:    cfg.Redis.PubSubPrefix,
		Sharded:   cfg.Redis.PubSubSharded,
		Binary:    cfg.Redis.PubSubBinary,
		QueueSize: cfg.PubSub.QueueSize,
		PoolSize:  cfg.PubSub.PoolSize,
		Workers:   cfg.PubSub.Workers,
	}, logger)
	if err != nil {
		logger.Error("failed to build pubsub service", "error", err)
		os.Exit(1)
	}
	pubsubSvc.Start(ctx)

	var opsServer *ops.Server
	if cfg.Ops.Enabled {
		status := ops.StatusFunc(func() map[string]any {
			stats := pubsubSvc.Stats()
			return map[string]any{
				"latest_block":     prod.LatestBlock(),
				"pubsub_published": stats.Published.Load(),
				"pubsub_errors":    stats.Errors.Load(),
				"pubsub_queue":     stats.QueueDepth.Load(),
			}
		})
		opsServer = ops.NewServer(cfg.Ops.Addr, status, logger)
		go func() {
			if err := opsServer.Start(); err != nil {
				logger.Error("ops server failed", "error", err)
			}
		}()
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("invalid redis url", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)

	cacheSink := cachesink.New(rdb, &eventTap{inner: pubsubSvc, ops: opsServer},
		time.Duration(cfg.Redis.TTLSeconds)*time.Second, logger)
	if err := cacheSink.Bootstrap(ctx); err != nil {
		logger.Error("failed to bootstrap cache sink", "error", err)
		os.Exit(1)
	}

	wcsSink, err := wcs.New(wcs.Config{Nodes: cfg.Scylla.Nodes, Keyspace: cfg.Scylla.Keyspace}, logger)
	if err != nil {
		logger.Error("failed to connect wide-column store", "error", err)
		os.Exit(1)
	}

	cacheConsumer := consume.New(consume.Config{
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		GroupBase: cfg.Kafka.ConsumerGroup,
		Sink:      "cache",
	}, cacheSink, logger)
	wcsConsumer := consume.New(consume.Config{
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		GroupBase: cfg.Kafka.ConsumerGroup,
		Sink:      "wcs",
	}, wcsSink, logger)

	ingester := ingest.New(ingest.ClientDialer{Client: client}, prod, cfg.GRPC.MaxRetries, logger)
	hb := heartbeat.New(client, prod, cfg.Heartbeat.Interval, cfg.Heartbeat.IncludeBalances, logger)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && err != context.Canceled {
				logger.Error("task exited", "task", name, "error", err)
			}
		}()
	}
	run("cache-consumer", cacheConsumer.Run)
	run("wcs-consumer", wcsConsumer.Run)
	run("ingester", ingester.Run)
	run("heartbeat", hb.Run)

	logger.Info("pipeline started",
		"stream", cfg.GRPC.StreamEndpoint,
		"topic", cfg.Kafka.Topic,
		"group", cfg.Kafka.ConsumerGroup,
		"keyspace", cfg.Scylla.Keyspace,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// reverse dependency order: stop feeding first, then drain, then close
	cancel()
	wg.Wait()

	if err := prod.Flush(10 * time.Second); err != nil {
		logger.Warn("producer flush", "error", err)
	}
	prod.Close()
	client.Close()

	if opsServer != nil {
		if err := opsServer.Stop(); err != nil {
			logger.Error("failed to stop ops server", "error", err)
		}
	}
	pubsubSvc.Wait()
	wcsSink.Close()
	rdb.Close()

	logger.Info("pipeline stopped")
}

// eventTap mirrors fan-out events onto the ops websocket before they reach
// redis subscribers.
type eventTap struct {
	inner *pubsub.Service
	ops   *ops.Server
}

func (t *eventTap) PublishEvent(e *pubsub.Event) error {
	if t.ops != nil {
		t.ops.Broadcast(e.EventType.String(), e.Payload)
	}
	return t.inner.PublishEvent(e)
}

func (t *eventTap) PublishEventsBatch(events []*pubsub.Event) error {
	if t.ops != nil {
		for _, e := range events {
			t.ops.Broadcast(e.EventType.String(), e.Payload)
		}
	}
	return t.inner.PublishEventsBatch(events)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
