package ops

import (
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

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	s := NewServer(":0", nil, testLogger())
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status body = %q, want ok", body["status"])
	}
}

func TestHandleStatusMergesProvider(t *testing.T) {
	t.Parallel()

	provider := StatusFunc(func() map[string]any {
		return map[string]any{"latest_block": float64(4200), "phase": "others"}
	})
	s := NewServer(":0", provider, testLogger())
	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["service"] != "injective-pipeline" {
		t.Errorf("service = %v", body["service"])
	}
	if body["latest_block"] != float64(4200) {
		t.Errorf("latest_block = %v, want 4200", body["latest_block"])
	}
	if body["phase"] != "others" {
		t.Errorf("phase = %v, want others", body["phase"])
	}
}

func TestHubDropsWhenSaturated(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	// Run is never started, so the broadcast buffer backs up and the hub
	// must drop instead of blocking.
	for i := 0; i < broadcastBuffer+10; i++ {
		h.Broadcast("test", map[string]int{"i": i})
	}
	if len(h.broadcast) != broadcastBuffer {
		t.Errorf("queued = %d, want capped at %d", len(h.broadcast), broadcastBuffer)
	}
}
