// Package ingest maintains the long-lived chain event stream. It reconnects
// with exponential backoff, drops chunks from blocks below the producer's
// tracked tip, and forwards everything else through the producer.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"injective-pipeline/internal/chain"
	"injective-pipeline/pkg/types"
)

const (
	backoffBase = 100 * time.Millisecond
	backoffCap  = 5 * time.Second
)

// Stream is one open event stream.
type Stream interface {
	Recv() (*chain.StreamResponse, error)
}

// Dialer opens event streams. Implemented by chain.Client via ClientDialer.
type Dialer interface {
	Stream(ctx context.Context, req *chain.StreamRequest) (Stream, error)
}

// Sender is the producer-facing surface the ingester needs.
type Sender interface {
	LatestBlock() uint64
	SendBatchCurrentOnly(ctx context.Context, records []*types.Envelope) []error
}

// ClientDialer adapts chain.Client to the Dialer interface.
type ClientDialer struct {
	Client *chain.Client
}

func (d ClientDialer) Stream(ctx context.Context, req *chain.StreamRequest) (Stream, error) {
	s, err := d.Client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Ingester owns one stream subscription. Run blocks until ctx is cancelled
// or maxRetries consecutive connection attempts fail.
type Ingester struct {
	dialer     Dialer
	sender     Sender
	request    *chain.StreamRequest
	maxRetries int
	logger     *slog.Logger
}

// New builds an ingester with the wildcard subscription (positions excluded;
// they arrive via the heartbeat).
func New(dialer Dialer, sender Sender, maxRetries int, logger *slog.Logger) *Ingester {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Ingester{
		dialer:     dialer,
		sender:     sender,
		request:    chain.WildcardStreamRequest(),
		maxRetries: maxRetries,
		logger:     logger.With("component", "ingester"),
	}
}

// Run connects and reads until ctx is cancelled. Stream errors trigger a
// reconnect with exponential backoff (100ms doubling to a 5s cap); the
// attempt counter resets after any session that delivered data, so only
// consecutive dead connects count against the budget. Exhausting the
// retry budget returns nil so the rest of the pipeline keeps running on
// broker replay.
func (i *Ingester) Run(ctx context.Context) error {
	backoff := backoffBase
	attempts := 0

	for {
		streamed, err := i.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if streamed {
			// healthy session; the next disconnect starts a fresh budget
			attempts = 0
			backoff = backoffBase
		}

		attempts++
		if attempts >= i.maxRetries {
			i.logger.Error("stream retries exhausted, stopping ingester",
				"attempts", attempts, "error", err)
			return nil
		}

		i.logger.Warn("stream disconnected, reconnecting",
			"error", err, "backoff", backoff, "attempt", attempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

// connectAndRead reports whether the session received at least one message
// before failing, so the caller can tell a healthy disconnect from a dead
// endpoint.
func (i *Ingester) connectAndRead(ctx context.Context) (bool, error) {
	stream, err := i.dialer.Stream(ctx, i.request)
	if err != nil {
		return false, err
	}

	i.logger.Info("stream connected", "tip", i.sender.LatestBlock())

	received := false
	for {
		resp, err := stream.Recv()
		if err != nil {
			return received, err
		}
		received = true
		i.handleChunk(ctx, resp)
	}
}

// handleChunk drops whole chunks from blocks below the tracked tip, then
// forwards the rest. The current-only send raises the tip as a side effect.
func (i *Ingester) handleChunk(ctx context.Context, resp *chain.StreamResponse) {
	if tip := i.sender.LatestBlock(); resp.BlockHeight < tip {
		i.logger.Info("dropping stale chunk", "height", resp.BlockHeight, "tip", tip)
		return
	}

	records := Translate(resp)
	if len(records) == 0 {
		return
	}

	results := i.sender.SendBatchCurrentOnly(ctx, records)
	failed := 0
	for _, err := range results {
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		i.logger.Warn("chunk partially failed",
			"height", resp.BlockHeight, "records", len(records), "failed", failed)
	} else {
		i.logger.Debug("chunk forwarded", "height", resp.BlockHeight, "records", len(records))
	}
}
