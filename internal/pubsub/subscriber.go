package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	subscribeBackoffBase = 100 * time.Millisecond
	subscribeBackoffCap  = 5 * time.Second
	defaultSubBuffer     = 1000
)

// Subscriber consumes broadcast channels and delivers decoded events on a
// bounded channel. Slow receivers lose events rather than stalling the
// redis connection.
type Subscriber struct {
	client     *redis.Client
	channels   []string
	binary     bool
	buffer     int
	maxRetries int
	logger     *slog.Logger
}

// NewSubscriber connects one client and subscribes to every sharded channel
// under the prefix, or the bare prefix when sharding is off.
func NewSubscriber(url, prefix string, sharded, binary bool, maxRetries int, logger *slog.Logger) (*Subscriber, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewSubscriberWithClient(redis.NewClient(opts), prefix, sharded, binary, maxRetries, logger), nil
}

// NewSubscriberWithClient wires a subscriber over an existing client. Used
// by tests.
func NewSubscriberWithClient(client *redis.Client, prefix string, sharded, binary bool, maxRetries int, logger *slog.Logger) *Subscriber {
	var channels []string
	if sharded {
		for t := MarketUpdate; t <= SystemEvent; t++ {
			channels = append(channels, ChannelFor(prefix, true, t))
		}
	} else {
		channels = []string{prefix}
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Subscriber{
		client:     client,
		channels:   channels,
		binary:     binary,
		buffer:     defaultSubBuffer,
		maxRetries: maxRetries,
		logger:     logger.With("component", "pubsub-subscriber"),
	}
}

// Events returns the delivery channel and starts the receive loop. The
// channel closes when ctx is cancelled or the retry budget is spent.
func (s *Subscriber) Events(ctx context.Context) <-chan *Event {
	out := make(chan *Event, s.buffer)
	go s.run(ctx, out)
	return out
}

func (s *Subscriber) run(ctx context.Context, out chan<- *Event) {
	defer close(out)

	backoff := subscribeBackoffBase
	attempts := 0
	for attempts < s.maxRetries {
		if ctx.Err() != nil {
			return
		}
		err := s.receive(ctx, out)
		if err == nil || ctx.Err() != nil {
			return
		}
		attempts++
		s.logger.Warn("subscription lost, retrying",
			"attempt", attempts, "max", s.maxRetries, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > subscribeBackoffCap {
			backoff = subscribeBackoffCap
		}
	}
	s.logger.Error("subscription retries exhausted", "attempts", attempts)
}

func (s *Subscriber) receive(ctx context.Context, out chan<- *Event) error {
	sub := s.client.Subscribe(ctx, s.channels...)
	defer sub.Close()

	ch := sub.Channel()
	s.logger.Info("subscribed", "channels", len(s.channels))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			events, err := decodeEvents([]byte(msg.Payload), s.binary)
			if err != nil {
				s.logger.Warn("dropping undecodable message", "channel", msg.Channel, "error", err)
				continue
			}
			for _, e := range events {
				select {
				case out <- e:
				default:
					s.logger.Warn("subscriber buffer full, dropping event", "type", e.EventType)
				}
			}
		}
	}
}
