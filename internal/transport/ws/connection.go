// Package ws is the WebSocket transport: it upgrades HTTP connections,
// decodes the five inbound wire events of spec §6 into calls against
// internal/session's Manager, and serializes outbound events back onto the
// socket, grounded on eventsync's WebSocketClient/WebSocketHandler pattern.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabdocs/internal/document"
	"collabdocs/internal/ratelimit"
	"collabdocs/internal/session"
)

// writeWait bounds how long a single outbound frame write may take.
const writeWait = 10 * time.Second

// pongWait/pingPeriod keep an idle connection alive and detect dead peers,
// mirroring the standard gorilla/websocket keepalive pattern.
const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// outboxSize bounds the per-session outbound queue. A session's writer
// goroutine drains it independently of whatever goroutine produced the
// message (a room broadcast, a bus delivery, this connection's own reader),
// so one slow socket can only ever fill its own buffer, never the engine's
// broadcast step.
const outboxSize = 64

// wireMessage is the on-the-wire shape for both directions; the fields that
// don't apply to a given event's Type are simply omitted.
type wireMessage struct {
	Type         string                `json:"type"`
	UserID       string                `json:"userId,omitempty"`
	Username     string                `json:"username,omitempty"`
	DocumentID   string                `json:"documentId,omitempty"`
	DocumentName string                `json:"documentName,omitempty"`
	Data         string                `json:"data,omitempty"`
	Delta        []document.Operation  `json:"delta,omitempty"`
	Version      int64                 `json:"version,omitempty"`
	Role         string                `json:"role,omitempty"`
	CanEdit      bool                  `json:"canEdit,omitempty"`
	OriginClient string                `json:"originClientId,omitempty"`
	Transformed  bool                  `json:"transformed,omitempty"`
	Error        string                `json:"error,omitempty"`
	Event        string                `json:"event,omitempty"`
}

// Connection is one live WebSocket connection, mirroring eventsync's
// WebSocketClient: a single reader goroutine driving the session state
// machine, and a single writer goroutine draining outbox — the per-session
// outbound channel SPEC_FULL.md §4.1 requires so a slow client blocks only
// its own queue, never a room broadcast or the OT engine.
type Connection struct {
	id      string
	conn    *websocket.Conn
	manager *session.Manager
	logger  *zap.Logger

	outbox    chan wireMessage
	done      chan struct{}
	closeOnce sync.Once

	sess *session.Session
}

// NewConnection wraps an upgraded socket. Start must be called to begin
// serving it.
func NewConnection(conn *websocket.Conn, manager *session.Manager, logger *zap.Logger) *Connection {
	return &Connection{
		id:      uuid.NewString(),
		conn:    conn,
		manager: manager,
		logger:  logger,
		outbox:  make(chan wireMessage, outboxSize),
		done:    make(chan struct{}),
	}
}

// ID satisfies session.Sender.
func (c *Connection) ID() string { return c.id }

// Send satisfies session.Sender. It never blocks on socket I/O: it enqueues
// onto this connection's outbox for its writer goroutine to drain, dropping
// the message (and logging) only if that queue is already full, i.e. this
// one client is already falling behind.
func (c *Connection) Send(out session.Outbound) {
	c.enqueue(wireMessage{
		Type:         out.Type,
		Data:         out.Data,
		Version:      out.Version,
		Role:         out.Role,
		CanEdit:      out.CanEdit,
		Delta:        out.Delta,
		OriginClient: out.OriginClientID,
		Transformed:  out.Transformed,
		Error:        out.Error,
		Event:        out.Event,
		UserID:       out.UserID,
		Username:     out.Username,
	})
}

func (c *Connection) enqueue(msg wireMessage) {
	select {
	case c.outbox <- msg:
	case <-c.done:
	default:
		c.logger.Warn("ws: outbox full, dropping message",
			zap.String("connId", c.id), zap.String("type", msg.Type))
	}
}

// Close satisfies session.Sender.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Start runs the connection's write pump, handshake, and read loop to
// completion, blocking until the socket closes. Callers run it in its own
// goroutine per accepted connection.
func (c *Connection) Start(ctx context.Context) {
	defer c.teardown(ctx)

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.writePump()

	if !c.handshake(ctx) {
		return
	}

	c.readLoop(ctx)
}

// writePump is the connection's sole writer: every outbound frame, whether
// a reply to this connection's own request or a change fanned out from
// another session entirely, flows through outbox so gorilla/websocket's
// single-writer requirement is satisfied without a lock shared with the
// reader goroutine.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("ws: write failed", zap.String("connId", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// handshake enforces spec §5's 10s bound on the initial handshake event and
// registers the session on success.
func (c *Connection) handshake(ctx context.Context) bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(session.HandshakeTimeout))

	var msg wireMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		return false
	}
	if msg.Type != session.EventHandshake {
		return false
	}

	sess, err := c.manager.Connect(c, msg.UserID, msg.Username)
	if err != nil {
		c.enqueue(wireMessage{Type: session.EventAccessDenied, Error: err.Error()})
		return false
	}
	c.sess = sess

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	return true
}

func (c *Connection) readLoop(ctx context.Context) {
	for {
		var msg wireMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.dispatch(ctx, msg)
		if msg.Type == session.EventDisconnect {
			return
		}
	}
}

func (c *Connection) dispatch(ctx context.Context, msg wireMessage) {
	class := ratelimit.ClassGeneral
	if msg.Type == session.EventSendChanges || msg.Type == session.EventSaveDocument {
		class = ratelimit.ClassDocument
	}
	if !c.sess.Events.Allow(class) {
		c.enqueue(wireMessage{Type: session.EventRateLimitExceeded, Event: msg.Type})
		return
	}

	switch msg.Type {
	case session.EventGetDocument:
		loadCtx, cancel := context.WithTimeout(ctx, session.LoadDocumentTimeout)
		defer cancel()
		out, err := c.manager.GetDocument(loadCtx, c.sess, msg.DocumentID, msg.DocumentName)
		if err != nil {
			c.logger.Debug("ws: get-document failed",
				zap.String("connId", c.id), zap.String("documentId", msg.DocumentID), zap.Error(err))
			if out.Type == "" {
				out = session.Outbound{Type: session.EventAccessDenied, Error: err.Error()}
			}
		}
		c.Send(out)

	case session.EventSendChanges:
		out, err := c.manager.SubmitChanges(ctx, c.sess, msg.Delta)
		if err != nil {
			if out.Type == "" {
				out = session.Outbound{Type: session.EventPermissionError, Error: err.Error()}
			}
		}
		c.Send(out)

	case session.EventSaveDocument:
		if out, err := c.manager.SaveDocument(c.sess, msg.Data, msg.Version); err != nil {
			c.Send(out)
		}

	case session.EventDisconnect:
		// readLoop tears the connection down right after this returns.

	default:
		c.logger.Debug("ws: unknown event type", zap.String("connId", c.id), zap.String("type", msg.Type))
	}
}

func (c *Connection) teardown(ctx context.Context) {
	if c.sess != nil {
		c.manager.Disconnect(ctx, c.sess)
	}
	_ = c.Close()
}
