package chain

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGRPCTarget(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"http://localhost:1999", "localhost:1999"},
		{"https://chain.example.com:9900", "chain.example.com:9900"},
		{"10.0.0.5:9900", "10.0.0.5:9900"},
	}
	for _, tc := range cases {
		if got := grpcTarget(tc.in); got != tc.want {
			t.Errorf("grpcTarget(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDeriveStatusEndpoint(t *testing.T) {
	t.Parallel()

	got := deriveStatusEndpoint("http://chain.example.com:9900")
	if want := "http://chain.example.com:26657"; got != want {
		t.Errorf("deriveStatusEndpoint() = %q, want %q", got, want)
	}
}

func TestLatestBlockHeight(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"sync_info": map[string]any{"latest_block_height": "123456"},
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient("http://localhost:1999", "http://localhost:9900", srv.URL, testLogger())
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	defer c.Close()

	height, err := c.LatestBlockHeight(context.Background())
	if err != nil {
		t.Fatalf("LatestBlockHeight() error: %v", err)
	}
	if height != 123456 {
		t.Errorf("height = %d, want 123456", height)
	}
}

func TestLatestBlockHeightRejectsGarbage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"sync_info": map[string]any{"latest_block_height": "not-a-height"},
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient("http://localhost:1999", "http://localhost:9900", srv.URL, testLogger())
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	defer c.Close()

	if _, err := c.LatestBlockHeight(context.Background()); err == nil {
		t.Error("LatestBlockHeight() accepted unparsable height")
	}
}

func TestWildcardStreamRequestOmitsPositions(t *testing.T) {
	t.Parallel()

	req := WildcardStreamRequest()
	if req.PositionsFilter != nil {
		t.Error("stream request should not subscribe positions")
	}
	if req.DerivativeTradesFilter == nil || req.DerivativeTradesFilter.MarketIDs[0] != "*" {
		t.Error("derivative trades filter should be wildcard")
	}
	if req.DerivativeOrderbooksFilter == nil || req.SpotOrderbooksFilter == nil {
		t.Error("orderbook filters should be set")
	}
}
