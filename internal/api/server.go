// Package api exposes the running engine's event stream over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/solstice-quant/signalengine/internal/events"
)

// Server is a thin HTTP/WebSocket front over an events.Bus: a health check,
// a point-in-time bus-stats endpoint, and a /ws stream that mirrors every
// signal/risk/performance event as it's published. Adapted from the
// teacher's internal/api.Server: the backtest-run-over-HTTP and order/
// position REST surface are dropped since this engine's backtests are a
// CLI-driven run, not a server-managed job.
type Server struct {
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *hub
	bus        *events.Bus
	clientSeq  atomic.Int64
	stop       chan struct{}
}

// NewServer builds a Server that mirrors bus onto connected WebSocket
// clients; call ListenAndServe to start accepting connections.
func NewServer(logger *zap.Logger, bus *events.Bus) *Server {
	s := &Server{
		logger: logger.Named("api"),
		router: mux.NewRouter(),
		hub:    newHub(logger.Named("api.hub")),
		bus:    bus,
		stop:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the CORS-wrapped router, exposed so callers (including
// tests) can drive the routes through httptest without a live listener.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}).Handler(s.router)
}

// ListenAndServe starts the hub's event-forwarding goroutines and blocks
// serving HTTP on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	go s.hub.run(s.stop)
	s.hub.subscribeBus(s.bus)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.logger.Info("starting status server", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the hub and gracefully drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stop)
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.bus.Stats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"published": stats.Published,
		"processed": stats.Processed,
		"dropped":   stats.Dropped,
		"errors":    stats.Errors,
		"clients":   s.hub.clientCount(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	id := strconv.FormatInt(s.clientSeq.Add(1), 10)
	c := newClient(id, s.hub, conn)
	s.hub.register <- c

	go c.writePump()
	go c.readPump()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode json response", zap.Error(err))
	}
}
