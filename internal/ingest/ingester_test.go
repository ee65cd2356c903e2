package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"injective-pipeline/internal/chain"
	"injective-pipeline/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedStream replays a fixed sequence of chunks, then fails.
type scriptedStream struct {
	chunks []*chain.StreamResponse
	pos    int
	final  error
}

func (s *scriptedStream) Recv() (*chain.StreamResponse, error) {
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	return nil, s.final
}

// scriptedDialer hands out one stream per connect attempt.
type scriptedDialer struct {
	mu       sync.Mutex
	streams  []Stream
	dialErrs []error
	connects int
}

func (d *scriptedDialer) Stream(ctx context.Context, req *chain.StreamRequest) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.connects
	d.connects++
	if i < len(d.dialErrs) && d.dialErrs[i] != nil {
		return nil, d.dialErrs[i]
	}
	if i < len(d.streams) {
		return d.streams[i], nil
	}
	return nil, errors.New("no more streams")
}

func (d *scriptedDialer) connectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// captureSender records forwarded batches and serves a fixed tip.
type captureSender struct {
	mu      sync.Mutex
	tip     uint64
	batches [][]*types.Envelope
}

func (s *captureSender) LatestBlock() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tip
}

func (s *captureSender) SendBatchCurrentOnly(ctx context.Context, records []*types.Envelope) []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)
	for _, r := range records {
		if r.BlockHeight > s.tip {
			s.tip = r.BlockHeight
		}
	}
	return make([]error, len(records))
}

func (s *captureSender) all() [][]*types.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

func tradeChunk(height uint64) *chain.StreamResponse {
	return &chain.StreamResponse{
		BlockHeight: height,
		BlockTime:   int64(height * 1000),
		SpotTrades: []chain.StreamSpotTrade{
			{MarketID: "0xm1", Price: "1", Quantity: "2", TradeID: "t"},
		},
	}
}

func TestIngesterForwardsChunks(t *testing.T) {
	t.Parallel()

	dialer := &scriptedDialer{streams: []Stream{
		&scriptedStream{chunks: []*chain.StreamResponse{tradeChunk(10), tradeChunk(11)}, final: io.EOF},
	}}
	sender := &captureSender{}
	ing := New(dialer, sender, 1, testLogger())

	if err := ing.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	batches := sender.all()
	if len(batches) != 2 {
		t.Fatalf("forwarded %d batches, want 2", len(batches))
	}
	if batches[0][0].BlockHeight != 10 || batches[1][0].BlockHeight != 11 {
		t.Errorf("unexpected heights: %d, %d", batches[0][0].BlockHeight, batches[1][0].BlockHeight)
	}
}

func TestIngesterDropsStaleChunks(t *testing.T) {
	t.Parallel()

	dialer := &scriptedDialer{streams: []Stream{
		&scriptedStream{chunks: []*chain.StreamResponse{tradeChunk(5)}, final: io.EOF},
	}}
	sender := &captureSender{tip: 100}
	ing := New(dialer, sender, 1, testLogger())

	if err := ing.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := len(sender.all()); got != 0 {
		t.Errorf("forwarded %d batches from a stale block, want 0", got)
	}
}

func TestIngesterReconnectsAfterStreamError(t *testing.T) {
	t.Parallel()

	dialer := &scriptedDialer{streams: []Stream{
		&scriptedStream{chunks: []*chain.StreamResponse{tradeChunk(1)}, final: errors.New("recv failed")},
		&scriptedStream{chunks: []*chain.StreamResponse{tradeChunk(2)}, final: io.EOF},
	}}
	sender := &captureSender{}
	ing := New(dialer, sender, 5, testLogger())

	start := time.Now()
	if err := ing.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	elapsed := time.Since(start)

	if got := dialer.connectCount(); got < 2 {
		t.Errorf("connected %d times, want at least 2", got)
	}
	if len(sender.all()) != 2 {
		t.Errorf("forwarded %d batches, want 2", len(sender.all()))
	}
	// Backoff budget across 5 retries stays well under the 5s cap sum.
	if elapsed > 5*time.Second {
		t.Errorf("reconnect took %v", elapsed)
	}
}

func TestIngesterRetryBudgetResetsAfterHealthySession(t *testing.T) {
	t.Parallel()

	// Each session delivers one chunk before dropping. The disconnect count
	// far exceeds the retry budget, but every session is healthy, so the
	// ingester must keep reconnecting until the dialer actually goes dead.
	var streams []Stream
	for h := uint64(1); h <= 10; h++ {
		streams = append(streams, &scriptedStream{
			chunks: []*chain.StreamResponse{tradeChunk(h)},
			final:  errors.New("recv failed"),
		})
	}
	dialer := &scriptedDialer{streams: streams}
	sender := &captureSender{}
	ing := New(dialer, sender, 3, testLogger())

	if err := ing.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := len(sender.all()); got != 10 {
		t.Errorf("forwarded %d batches, want 10", got)
	}
	// 10 healthy sessions, then dead dials until the budget runs out.
	if got := dialer.connectCount(); got != 12 {
		t.Errorf("connected %d times, want 12", got)
	}
}

func TestIngesterStopsWhenRetriesExhausted(t *testing.T) {
	t.Parallel()

	dialer := &scriptedDialer{dialErrs: []error{
		errors.New("down"), errors.New("down"), errors.New("down"),
	}}
	ing := New(dialer, &captureSender{}, 3, testLogger())

	if err := ing.Run(context.Background()); err != nil {
		t.Fatalf("Run() should shut down cleanly, got %v", err)
	}
	if got := dialer.connectCount(); got != 3 {
		t.Errorf("connected %d times, want 3", got)
	}
}

func TestIngesterHonorsContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	dialer := &scriptedDialer{dialErrs: []error{errors.New("down"), errors.New("down")}}
	ing := New(dialer, &captureSender{}, 100, testLogger())

	done := make(chan error, 1)
	go func() { done <- ing.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
