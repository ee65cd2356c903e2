// Package consume reads the log and feeds a per-sink Processor. The
// consumer is generic; all message-type dispatch lives in the processor.
// Each sink gets its own consumer group so the sinks progress independently.
package consume

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"injective-pipeline/internal/metrics"
	"injective-pipeline/pkg/types"
)

// Processor applies one envelope to a sink.
type Processor interface {
	Process(ctx context.Context, e *types.Envelope) error
}

// Fetcher is the broker-facing surface of kafka.Reader, narrowed for tests.
type Fetcher interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Config names the broker, topic and the per-sink group.
type Config struct {
	Brokers   []string
	Topic     string
	GroupBase string
	Sink      string // "cache" or "wcs"; group is "{base}-{sink}"
}

// readRetryDelay paces the poll loop when the broker read keeps failing,
// e.g. a closed reader or an unreachable broker.
const readRetryDelay = 500 * time.Millisecond

// Consumer pulls envelopes and hands them to the processor one at a time,
// preserving partition order.
type Consumer struct {
	reader    Fetcher
	sink      string
	processor Processor
	logger    *slog.Logger
}

// New builds a consumer over a kafka.Reader with auto-commit and
// earliest-offset reset.
func New(cfg Config, processor Processor, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupBase + "-" + cfg.Sink,
		Topic:          cfg.Topic,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
		MinBytes:       1,
		MaxBytes:       10 << 20,
	})
	return NewWithFetcher(reader, cfg.Sink, processor, logger)
}

// NewWithFetcher builds a consumer over an existing fetcher. Used by tests.
func NewWithFetcher(reader Fetcher, sink string, processor Processor, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:    reader,
		sink:      sink,
		processor: processor,
		logger:    logger.With("component", "consumer", "sink", sink),
	}
}

// Run polls until ctx is cancelled. Malformed records and processor errors
// are logged and skipped; re-delivery from the broker repairs transient
// sink failures.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				c.logger.Info("consumer stopped")
				return nil
			}
			c.logger.Error("read message", "error", err)
			select {
			case <-ctx.Done():
				c.logger.Info("consumer stopped")
				return nil
			case <-time.After(readRetryDelay):
			}
			continue
		}

		env, err := types.Unmarshal(msg.Value)
		if err != nil {
			c.logger.Warn("skipping malformed record", "key", string(msg.Key), "error", err)
			continue
		}

		metrics.EnvelopesConsumed.WithLabelValues(c.sink, string(env.MessageType)).Inc()
		if err := c.processor.Process(ctx, env); err != nil {
			metrics.ProcessErrors.WithLabelValues(c.sink).Inc()
			c.logger.Error("process envelope",
				"type", env.MessageType, "height", env.BlockHeight, "error", err)
		}
	}
}
