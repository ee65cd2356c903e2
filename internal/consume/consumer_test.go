package consume

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"injective-pipeline/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// queueFetcher serves a fixed set of messages, then blocks until cancel.
type queueFetcher struct {
	msgs []kafka.Message
	pos  int
}

func (f *queueFetcher) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if f.pos < len(f.msgs) {
		m := f.msgs[f.pos]
		f.pos++
		return m, nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *queueFetcher) Close() error { return nil }

type captureProcessor struct {
	mu       sync.Mutex
	seen     []*types.Envelope
	failWith error
}

func (p *captureProcessor) Process(ctx context.Context, e *types.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, e)
	return p.failWith
}

func (p *captureProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func record(t *testing.T, height uint64) kafka.Message {
	t.Helper()
	e := &types.Envelope{
		MessageType: types.TypeSpotTrade,
		BlockHeight: height,
		BlockTime:   height * 1000,
		Payload:     types.Payload{SpotTrades: []types.SpotTrade{{MarketID: "0xm1", TradeID: "t"}}},
	}
	data, err := e.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Key: []byte(e.Key()), Value: data}
}

func runUntilDrained(t *testing.T, c *Consumer, p *captureProcessor, want int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for p.count() < want {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("processed %d envelopes, want %d", p.count(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v, want nil on cancel", err)
	}
}

func TestConsumerDeliversInOrder(t *testing.T) {
	t.Parallel()

	fetcher := &queueFetcher{msgs: []kafka.Message{record(t, 1), record(t, 2), record(t, 3)}}
	p := &captureProcessor{}
	c := NewWithFetcher(fetcher, "cache", p, testLogger())

	runUntilDrained(t, c, p, 3)

	for i, e := range p.seen {
		if e.BlockHeight != uint64(i+1) {
			t.Errorf("seen[%d].BlockHeight = %d, want %d", i, e.BlockHeight, i+1)
		}
	}
}

func TestConsumerSkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	bad := kafka.Message{Key: []byte("1-1"), Value: []byte(`{"message_type":"SpotTrade","payload":{}}`)}
	fetcher := &queueFetcher{msgs: []kafka.Message{bad, record(t, 2)}}
	p := &captureProcessor{}
	c := NewWithFetcher(fetcher, "cache", p, testLogger())

	runUntilDrained(t, c, p, 1)

	if p.seen[0].BlockHeight != 2 {
		t.Errorf("good record not delivered after malformed one")
	}
}

func TestConsumerContinuesAfterProcessorError(t *testing.T) {
	t.Parallel()

	fetcher := &queueFetcher{msgs: []kafka.Message{record(t, 1), record(t, 2)}}
	p := &captureProcessor{failWith: errors.New("sink down")}
	c := NewWithFetcher(fetcher, "cache", p, testLogger())

	runUntilDrained(t, c, p, 2)
}

// deadFetcher fails every read and counts the attempts.
type deadFetcher struct {
	mu    sync.Mutex
	reads int
}

func (f *deadFetcher) ReadMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	return kafka.Message{}, errors.New("reader closed")
}

func (f *deadFetcher) Close() error { return nil }

func (f *deadFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func TestConsumerBacksOffOnPersistentReadError(t *testing.T) {
	t.Parallel()

	fetcher := &deadFetcher{}
	c := NewWithFetcher(fetcher, "cache", &captureProcessor{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	// A paced loop attempts at most a handful of reads in 150ms; an unpaced
	// one would rack up thousands.
	if got := fetcher.count(); got > 3 {
		t.Errorf("read attempts = %d, want a paced retry loop", got)
	}
}
