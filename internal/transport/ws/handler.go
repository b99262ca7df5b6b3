package ws

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabdocs/internal/ratelimit"
	"collabdocs/internal/session"
)

// Handler upgrades incoming HTTP requests to WebSocket connections and runs
// each one's Connection to completion, mirroring eventsync's
// WebSocketHandler.ServeHTTP.
type Handler struct {
	manager  *session.Manager
	logger   *zap.Logger
	upgrader websocket.Upgrader
	conns    *ratelimit.ConnectionLimiter
}

// NewHandler builds the /ws upgrade handler. Origins are not restricted here
// (CheckOrigin always true); the teacher's handler does the same and relies
// on the handshake's userId/permission gate, not origin, for access control.
// conns admits at most DefaultConnectionsPerMinute handshake attempts per
// source address, per spec §4.1/§5's connection-rate bound.
func NewHandler(manager *session.Manager, conns *ratelimit.ConnectionLimiter, logger *zap.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
		conns:   conns,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP admits the connection against the per-address rate limiter,
// refusing the handshake outright (before any upgrade) if it's exceeded,
// then upgrades and runs the connection on its own goroutine.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.conns.Allow(sourceAddr(r)) {
		h.logger.Debug("ws: connection rate exceeded", zap.String("remoteAddr", r.RemoteAddr))
		http.Error(w, "connection rate exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("ws: upgrade failed", zap.Error(err))
		return
	}

	c := NewConnection(conn, h.manager, h.logger)
	go c.Start(context.Background())
}

// sourceAddr strips the port from RemoteAddr so a client is rate-limited by
// address, not by address:ephemeral-port.
func sourceAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
