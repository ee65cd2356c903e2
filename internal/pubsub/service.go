// Package pubsub fans processed updates out to downstream consumers over
// redis pub/sub. Publishes are queued and drained by a fixed worker pool so
// sink processing never blocks on a slow broker; when the queue is full the
// publish is dropped and reported as backpressure.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"injective-pipeline/internal/metrics"
)

// ErrBackpressure is returned when the publish queue is full.
var ErrBackpressure = errors.New("pubsub: publish queue full")

// metricsLogInterval paces the periodic stats line.
const metricsLogInterval = 30 * time.Second

// Config sizes the fan-out machinery.
type Config struct {
	URL       string
	Prefix    string
	Sharded   bool
	Binary    bool
	QueueSize int
	PoolSize  int
	Workers   int
}

// Metrics tracks publish volume and latency. AvgPublishMicros is an
// exponential moving average with a 1/10 weight on new samples.
type Metrics struct {
	Published        atomic.Uint64
	Errors           atomic.Uint64
	QueueDepth       atomic.Int64
	AvgPublishMicros atomic.Uint64
	MaxPublishMicros atomic.Uint64
}

func (m *Metrics) observePublish(d time.Duration) {
	us := uint64(d.Microseconds())
	m.Published.Add(1)
	for {
		old := m.AvgPublishMicros.Load()
		next := us
		if old != 0 {
			next = (9*old + us) / 10
		}
		if m.AvgPublishMicros.CompareAndSwap(old, next) {
			break
		}
	}
	for {
		old := m.MaxPublishMicros.Load()
		if us <= old || m.MaxPublishMicros.CompareAndSwap(old, us) {
			break
		}
	}
}

type item struct {
	channel string
	payload []byte
}

// Service is the asynchronous publisher.
type Service struct {
	cfg    Config
	queue  chan item
	logger *slog.Logger

	poolMu sync.Mutex
	pool   []*redis.Client

	stats Metrics
	wg    sync.WaitGroup
}

// New connects a pool of PoolSize redis clients from the configured URL.
func New(cfg Config, logger *slog.Logger) (*Service, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	pool := make([]*redis.Client, 0, cfg.PoolSize)
	for i := 0; i < cfg.PoolSize; i++ {
		pool = append(pool, redis.NewClient(opts))
	}
	return NewWithPool(cfg, pool, logger), nil
}

// NewWithPool wires the service over pre-built clients. Used by tests.
func NewWithPool(cfg Config, pool []*redis.Client, logger *slog.Logger) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	return &Service{
		cfg:    cfg,
		queue:  make(chan item, cfg.QueueSize),
		pool:   pool,
		logger: logger.With("component", "pubsub"),
	}
}

// Start launches the worker pool and the periodic stats logger. Workers
// drain the queue until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.wg.Add(1)
	go s.logStats(ctx)
	s.logger.Info("pubsub started",
		"workers", s.cfg.Workers, "pool", len(s.pool), "queue", s.cfg.QueueSize,
		"sharded", s.cfg.Sharded, "binary", s.cfg.Binary)
}

// Wait blocks until every worker has exited.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Stats exposes the counters for the ops surface.
func (s *Service) Stats() *Metrics {
	return &s.stats
}

// Channel derives the broadcast channel for an event type under this
// service's prefix and sharding mode.
func (s *Service) Channel(t EventType) string {
	return ChannelFor(s.cfg.Prefix, s.cfg.Sharded, t)
}

// PublishEvent queues a single event. Returns ErrBackpressure when the
// queue is full; the event is dropped, never blocked on.
func (s *Service) PublishEvent(e *Event) error {
	payload, err := encodeEvents([]*Event{e}, s.cfg.Binary)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.enqueue(s.Channel(e.EventType), payload)
}

// PublishEventsBatch groups events by channel and queues one list payload
// per channel. A full queue drops that channel's payload and is reported in
// the returned error; remaining channels still publish.
func (s *Service) PublishEventsBatch(events []*Event) error {
	if len(events) == 0 {
		return nil
	}
	byChannel := make(map[string][]*Event)
	for _, e := range events {
		ch := s.Channel(e.EventType)
		byChannel[ch] = append(byChannel[ch], e)
	}

	var dropped int
	for ch, group := range byChannel {
		payload, err := encodeEvents(group, s.cfg.Binary)
		if err != nil {
			return fmt.Errorf("encode batch for %s: %w", ch, err)
		}
		if err := s.enqueue(ch, payload); err != nil {
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: dropped %d of %d channel payloads", ErrBackpressure, dropped, len(byChannel))
	}
	return nil
}

func (s *Service) enqueue(channel string, payload []byte) error {
	select {
	case s.queue <- item{channel: channel, payload: payload}:
		depth := s.stats.QueueDepth.Add(1)
		metrics.PubSubQueueDepth.Set(float64(depth))
		return nil
	default:
		s.stats.Errors.Add(1)
		metrics.PubSubErrors.Inc()
		return ErrBackpressure
	}
}

func (s *Service) popConn() *redis.Client {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	if len(s.pool) == 0 {
		return nil
	}
	conn := s.pool[len(s.pool)-1]
	s.pool = s.pool[:len(s.pool)-1]
	return conn
}

func (s *Service) pushConn(conn *redis.Client) {
	s.poolMu.Lock()
	s.pool = append(s.pool, conn)
	s.poolMu.Unlock()
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-s.queue:
			depth := s.stats.QueueDepth.Add(-1)
			metrics.PubSubQueueDepth.Set(float64(depth))
			s.publish(ctx, it)
		}
	}
}

func (s *Service) publish(ctx context.Context, it item) {
	conn := s.popConn()
	if conn == nil {
		s.stats.Errors.Add(1)
		metrics.PubSubErrors.Inc()
		s.logger.Error("connection pool exhausted, dropping publish", "channel", it.channel)
		return
	}
	defer s.pushConn(conn)

	start := time.Now()
	if err := conn.Publish(ctx, it.channel, it.payload).Err(); err != nil {
		s.stats.Errors.Add(1)
		metrics.PubSubErrors.Inc()
		s.logger.Error("publish failed", "channel", it.channel, "error", err)
		return
	}
	s.stats.observePublish(time.Since(start))
	metrics.PubSubPublished.Inc()
}

func (s *Service) logStats(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(metricsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logger.Info("pubsub stats",
				"published", s.stats.Published.Load(),
				"errors", s.stats.Errors.Load(),
				"queue_depth", s.stats.QueueDepth.Load(),
				"avg_publish_us", s.stats.AvgPublishMicros.Load(),
				"max_publish_us", s.stats.MaxPublishMicros.Load(),
			)
		}
	}
}
