// Package metrics registers the pipeline's Prometheus collectors. All
// collectors are package-level and registered once via promauto; the ops
// server exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProduced counts records accepted by the broker, per outcome.
	RecordsProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_records_produced_total",
		Help: "Records submitted to the log broker by outcome.",
	}, []string{"outcome"})

	// RecordsDroppedStale counts records filtered by the stale-block check.
	RecordsDroppedStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_records_dropped_stale_total",
		Help: "Records dropped because their block height was below the tracked tip.",
	})

	// EnvelopesConsumed counts envelopes handed to a sink processor.
	EnvelopesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_envelopes_consumed_total",
		Help: "Envelopes consumed from the log, per sink and message type.",
	}, []string{"sink", "type"})

	// ProcessErrors counts sink processing failures (logged and skipped).
	ProcessErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_process_errors_total",
		Help: "Per-sink processing errors.",
	}, []string{"sink"})

	// LiquidationAlerts counts alerts emitted by the cache sink.
	LiquidationAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_liquidation_alerts_total",
		Help: "Liquidation alerts published.",
	})

	// PubSubPublished counts pub/sub messages successfully published.
	PubSubPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_pubsub_published_total",
		Help: "Pub/sub messages published.",
	})

	// PubSubErrors counts pub/sub publish failures, including pool
	// exhaustion and backpressure drops.
	PubSubErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_pubsub_errors_total",
		Help: "Pub/sub publish failures and drops.",
	})

	// PubSubQueueDepth tracks the outbound fan-out queue depth.
	PubSubQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_pubsub_queue_depth",
		Help: "Current pub/sub outbound queue depth.",
	})

	// LatestBlock tracks the producer's known chain tip.
	LatestBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_latest_block_height",
		Help: "Highest block height observed by the producer.",
	})
)
