// Package httpserver is the ambient HTTP surface described in SPEC_FULL.md's
// "(NEW) HTTP surface" table: the WebSocket upgrade endpoint plus health and
// metrics routes, grounded on idledungeon/pkg/server's Config/Server/
// NewServer/setupRoutes/Start/Stop shape and its goroutine-based
// ListenAndServe with signal-driven graceful shutdown.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config is the server's own listen configuration; application wiring
// (Mongo, Redis, the session manager) lives in cmd/server and is handed in
// via NewServer's other arguments instead of being duplicated here.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// DefaultConfig mirrors the teacher's DefaultConfig.
func DefaultConfig() Config {
	return Config{Addr: ":8080", ShutdownTimeout: 5 * time.Second}
}

// HealthCheck reports whether the process's external dependencies (Mongo,
// Redis) are reachable.
type HealthCheck func(ctx context.Context) error

// Server hosts the WebSocket upgrade handler behind the shared middleware
// chain, plus /healthz and /metrics.
type Server struct {
	config Config
	logger *zap.Logger
	router *http.ServeMux
	server *http.Server
	health HealthCheck
}

// NewServer wires the router: wsHandler answers GET /ws (the websocket
// upgrade lives in internal/transport/ws), health backs /healthz.
func NewServer(config Config, wsHandler http.Handler, health HealthCheck, logger *zap.Logger) *Server {
	router := http.NewServeMux()
	s := &Server{config: config, logger: logger, router: router, health: health}

	router.Handle("/ws", wsHandler)
	router.HandleFunc("/healthz", s.handleHealthz)
	router.Handle("/metrics", promhttp.Handler())

	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.health(ctx); err != nil {
		s.logger.Warn("healthz check failed", zap.Error(err))
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Start serves until it receives SIGINT/SIGTERM, then shuts down gracefully.
// It blocks until shutdown completes.
func (s *Server) Start() error {
	handler := MiddlewareChain(s.router,
		func(h http.Handler) http.Handler { return LoggingMiddleware(s.logger, h) },
		func(h http.Handler) http.Handler { return RecoveryMiddleware(s.logger, h) },
		CORSMiddleware,
	)

	s.server = &http.Server{Addr: s.config.Addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.config.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-stop:
		s.logger.Info("shutdown signal received")
	}

	return s.Stop()
}

// Stop shuts the server down gracefully, bounded by config.ShutdownTimeout.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("http server shutdown error", zap.Error(err))
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
