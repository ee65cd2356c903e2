// Package ops exposes the operational surface of the pipeline: health and
// status JSON, prometheus metrics, and a websocket tap that mirrors
// pipeline events to dashboard clients.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusProvider reports per-component state for /status.
type StatusProvider interface {
	Status() map[string]any
}

// StatusFunc adapts a closure to StatusProvider.
type StatusFunc func() map[string]any

func (f StatusFunc) Status() map[string]any { return f() }

type Server struct {
	provider StatusProvider
	hub      *Hub
	server   *http.Server
	started  time.Time
	logger   *slog.Logger
}

func NewServer(addr string, provider StatusProvider, logger *slog.Logger) *Server {
	s := &Server{
		provider: provider,
		hub:      NewHub(logger),
		started:  time.Now(),
		logger:   logger.With("component", "ops"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("ops server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

func (s *Server) Stop() error {
	s.logger.Info("stopping ops server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Broadcast mirrors a pipeline event to websocket watchers.
func (s *Server) Broadcast(eventType string, data any) {
	s.hub.Broadcast(eventType, data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"service":        "injective-pipeline",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	if s.provider != nil {
		for k, v := range s.provider.Status() {
			status[k] = v
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("encode status", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	newClient(s.hub, conn)
}
