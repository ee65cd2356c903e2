// Package producer delivers envelope batches to the log broker. It owns the
// single logical writer, the tracked chain tip, and the counted gate that
// bounds in-flight submissions. Both the stream ingester and the heartbeat
// poller share one Producer instance.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/semaphore"

	"injective-pipeline/internal/metrics"
	"injective-pipeline/pkg/types"
)

const (
	highThroughputLinger  = 10 * time.Millisecond
	highThroughputTimeout = 30 * time.Second
	lowLatencyTimeout     = 2 * time.Second
)

var (
	// ErrStaleBlock marks a record filtered because its block height was
	// below the tracked tip.
	ErrStaleBlock = errors.New("producer: record below latest block")

	// ErrTimeout is returned by Flush when pending submissions do not
	// drain within the deadline.
	ErrTimeout = errors.New("producer: flush timed out")
)

// Writer is the broker-facing surface of kafka.Writer, narrowed for tests.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Config selects the broker endpoints and the delivery profile.
type Config struct {
	Brokers     []string
	Topic       string
	ClientID    string
	Mode        string // "high-throughput" or "low-latency"
	MaxInflight int
	BatchSize   int
}

// Producer batches and submits envelopes. Safe for concurrent use: the tip
// is an atomic and the gate bounds concurrent broker submissions.
type Producer struct {
	writer    Writer
	kw        *kafka.Writer // nil when constructed with NewWithWriter
	batchSize int
	inflight  int64
	gate      *semaphore.Weighted
	latest    atomic.Uint64
	logger    *slog.Logger
}

// New builds a Producer over a kafka.Writer configured for cfg.Mode.
// High-throughput compresses and lingers to fill batches; low-latency sends
// each record as its own batch with a tight write deadline.
func New(cfg Config, logger *slog.Logger) *Producer {
	kw := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{ClientID: cfg.ClientID},
	}
	if cfg.Mode == "low-latency" {
		kw.BatchSize = 1
		kw.BatchTimeout = time.Millisecond
		kw.WriteTimeout = lowLatencyTimeout
	} else {
		kw.BatchSize = cfg.BatchSize
		kw.BatchTimeout = highThroughputLinger
		kw.WriteTimeout = highThroughputTimeout
		kw.Compression = kafka.Snappy
	}

	p := newWith(kw, cfg, logger)
	p.kw = kw
	return p
}

// NewWithWriter builds a Producer over an existing writer. Used by tests.
func NewWithWriter(w Writer, cfg Config, logger *slog.Logger) *Producer {
	return newWith(w, cfg, logger)
}

func newWith(w Writer, cfg Config, logger *slog.Logger) *Producer {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	inflight := cfg.MaxInflight
	if inflight <= 0 {
		inflight = 8
	}
	return &Producer{
		writer:    w,
		batchSize: batch,
		inflight:  int64(inflight),
		gate:      semaphore.NewWeighted(int64(inflight)),
		logger:    logger.With("component", "producer"),
	}
}

// UpdateLatestBlock raises the tracked tip to h if h is higher. Monotonic
// under concurrent callers.
func (p *Producer) UpdateLatestBlock(h uint64) {
	for {
		cur := p.latest.Load()
		if h <= cur {
			return
		}
		if p.latest.CompareAndSwap(cur, h) {
			metrics.LatestBlock.Set(float64(h))
			return
		}
	}
}

// LatestBlock returns the tracked chain tip.
func (p *Producer) LatestBlock() uint64 {
	return p.latest.Load()
}

// SendBatch serializes and submits records, preserving input order in the
// returned slice. A nil entry means the record was accepted by the broker;
// serialization failures and per-record broker errors appear at the failing
// record's index. The batch never fails atomically.
func (p *Producer) SendBatch(ctx context.Context, records []*types.Envelope) []error {
	results := make([]error, len(records))

	msgs := make([]pending, 0, len(records))
	for i, rec := range records {
		data, err := rec.Marshal()
		if err != nil {
			results[i] = fmt.Errorf("serialize: %w", err)
			metrics.RecordsProduced.WithLabelValues("serialization_error").Inc()
			continue
		}
		msgs = append(msgs, pending{idx: i, msg: kafka.Message{
			Key:   []byte(rec.Key()),
			Value: data,
		}})
	}

	var wg sync.WaitGroup
	for start := 0; start < len(msgs); start += p.batchSize {
		end := start + p.batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		chunk := msgs[start:end]

		if err := p.gate.Acquire(ctx, 1); err != nil {
			for _, m := range chunk {
				results[m.idx] = err
			}
			continue
		}

		wg.Add(1)
		go func(chunk []pending) {
			defer wg.Done()
			defer p.gate.Release(1)

			kmsgs := make([]kafka.Message, len(chunk))
			for i, m := range chunk {
				kmsgs[i] = m.msg
			}
			err := p.writer.WriteMessages(ctx, kmsgs...)
			p.recordChunkResult(chunk, err, results)
		}(chunk)
	}
	wg.Wait()

	return results
}

// pending pairs a serialized message with its index in the caller's batch.
type pending struct {
	idx int
	msg kafka.Message
}

// recordChunkResult maps a WriteMessages error back onto per-record slots.
// kafka-go reports partial failures as a WriteErrors slice aligned with the
// submitted messages.
func (p *Producer) recordChunkResult(chunk []pending, err error, results []error) {
	switch werr := err.(type) {
	case nil:
		for range chunk {
			metrics.RecordsProduced.WithLabelValues("ok").Inc()
		}
	case kafka.WriteErrors:
		for i, m := range chunk {
			if i < len(werr) && werr[i] != nil {
				results[m.idx] = werr[i]
				metrics.RecordsProduced.WithLabelValues("broker_error").Inc()
			} else {
				metrics.RecordsProduced.WithLabelValues("ok").Inc()
			}
		}
	default:
		for _, m := range chunk {
			results[m.idx] = err
			metrics.RecordsProduced.WithLabelValues("broker_error").Inc()
		}
	}
	if err != nil {
		p.logger.Warn("batch submission failed", "error", err, "records", len(chunk))
	}
}

// SendBatchCurrentOnly behaves like SendBatch but first drops records whose
// block height is below the tracked tip, then raises the tip to the maximum
// height seen in the input. Dropped records get ErrStaleBlock at their index.
func (p *Producer) SendBatchCurrentOnly(ctx context.Context, records []*types.Envelope) []error {
	results := make([]error, len(records))
	tip := p.LatestBlock()

	var maxSeen uint64
	kept := make([]*types.Envelope, 0, len(records))
	keptIdx := make([]int, 0, len(records))
	for i, rec := range records {
		if rec.BlockHeight > maxSeen {
			maxSeen = rec.BlockHeight
		}
		if rec.BlockHeight < tip {
			results[i] = ErrStaleBlock
			metrics.RecordsDroppedStale.Inc()
			continue
		}
		kept = append(kept, rec)
		keptIdx = append(keptIdx, i)
	}
	if dropped := len(records) - len(kept); dropped > 0 {
		p.logger.Info("dropped stale records", "dropped", dropped, "tip", tip)
	}
	p.UpdateLatestBlock(maxSeen)

	for i, err := range p.SendBatch(ctx, kept) {
		results[keptIdx[i]] = err
	}
	return results
}

// Flush blocks until all in-flight submissions complete, failing with
// ErrTimeout past the deadline. Implemented by draining the counted gate.
func (p *Producer) Flush(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := p.gate.Acquire(ctx, p.inflight); err != nil {
		return ErrTimeout
	}
	p.gate.Release(p.inflight)
	return nil
}

// Close flushes and releases the underlying broker writer.
func (p *Producer) Close() error {
	if p.kw != nil {
		return p.kw.Close()
	}
	return nil
}
