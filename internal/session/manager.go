package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"collabdocs/internal/broadcast"
	"collabdocs/internal/cache"
	"collabdocs/internal/document"
	"collabdocs/internal/ot"
	"collabdocs/internal/permission"
	"collabdocs/internal/persistence"
	"collabdocs/internal/ratelimit"
)

// HandshakeTimeout and LoadDocumentTimeout are spec §5's 10s bounds on the
// initial connection exchange.
const (
	HandshakeTimeout    = 10 * time.Second
	LoadDocumentTimeout = 10 * time.Second
)

// Sender is the outbound half of a transport connection; transport/ws's
// connection type implements it.
type Sender interface {
	ID() string
	Send(out Outbound)
	Close() error
}

// Session is one authenticated, possibly document-joined connection.
// Version tracks the last document version this connection is known to
// have observed (via load-document, its own ack, or a relayed
// receive-changes), which is the "client's current" base version spec
// §6's send-changes event submits against.
type Session struct {
	UserID     string
	Username   string
	DocumentID string
	CanEdit    bool
	Version    int64
	Sender     Sender
	Events     *ratelimit.ConnectionEvents

	mu sync.Mutex
}

// ID satisfies broadcast.Member by delegating to the underlying connection.
func (s *Session) ID() string { return s.Sender.ID() }

// Send satisfies broadcast.Member, translating a broadcast.Message back into
// the matching wire Outbound shape.
func (s *Session) Send(msg broadcast.Message) {
	switch msg.Event {
	case EventUserLeft:
		var payload struct {
			UserID   string `json:"userId"`
			Username string `json:"username"`
		}
		_ = json.Unmarshal(msg.Payload, &payload)
		s.Sender.Send(Outbound{Type: EventUserLeft, UserID: payload.UserID, Username: payload.Username})
	default:
		var payload struct {
			Delta          []document.Operation `json:"delta"`
			OriginClientID string               `json:"originClientId"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		s.mu.Lock()
		if msg.Version > s.Version {
			s.Version = msg.Version
		}
		s.mu.Unlock()
		s.Sender.Send(Outbound{
			Type:           EventReceiveChanges,
			Delta:          payload.Delta,
			Version:        msg.Version,
			OriginClientID: payload.OriginClientID,
		})
	}
}

// Manager is the process-wide connection and session registry described in
// spec §4.1, wiring together the permission gate, the OT engine registry,
// the broadcast fabric, and the persistence pipeline.
type Manager struct {
	gate       *permission.Gate
	registry   *ot.Registry
	rooms      *broadcast.Rooms
	bus        broadcast.Bus
	pipeline   *persistence.Pipeline
	docStore   DocumentStore
	cache      cache.Cache[*document.Document]
	logger     *zap.Logger
	instanceID string

	mu       sync.RWMutex
	sessions map[string]*Session

	subMu sync.Mutex
	subs  map[string]func()
}

// DocumentStore is the durable lookup/create dependency GetDocument resolves
// a document through; *store.Store satisfies it. Declared narrowly (rather
// than depending on *store.Store) so the manager can be exercised with a
// fake in tests.
type DocumentStore interface {
	FindOne(ctx context.Context, id string) (*document.Document, error)
	Upsert(ctx context.Context, doc *document.Document) error
}

// NewManager wires the manager's collaborators. instanceID identifies this
// process to the broadcast bus so it can recognize its own publishes.
func NewManager(
	gate *permission.Gate,
	registry *ot.Registry,
	rooms *broadcast.Rooms,
	bus broadcast.Bus,
	pipeline *persistence.Pipeline,
	docStore DocumentStore,
	docCache cache.Cache[*document.Document],
	logger *zap.Logger,
	instanceID string,
) *Manager {
	return &Manager{
		gate:       gate,
		registry:   registry,
		rooms:      rooms,
		bus:        bus,
		pipeline:   pipeline,
		docStore:   docStore,
		cache:      docCache,
		logger:     logger,
		instanceID: instanceID,
		sessions:   make(map[string]*Session),
		subs:       make(map[string]func()),
	}
}

// subscribeDocument ensures this process has a live cross-instance
// subscription for documentID, so changes published by other instances
// reach this room. It is idempotent per document.
func (m *Manager) subscribeDocument(ctx context.Context, documentID string) {
	if m.bus == nil {
		return
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if _, ok := m.subs[documentID]; ok {
		return
	}
	unsub, err := m.bus.Subscribe(ctx, documentID, func(_ context.Context, msg broadcast.Message) {
		if msg.OriginInstance == m.instanceID {
			return
		}
		m.rooms.Broadcast(documentID, "", msg)
	})
	if err != nil {
		m.logger.Warn("session: bus subscribe failed", zap.String("documentId", documentID), zap.Error(err))
		return
	}
	m.subs[documentID] = unsub
}

func (m *Manager) unsubscribeDocument(documentID string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if unsub, ok := m.subs[documentID]; ok {
		unsub()
		delete(m.subs, documentID)
	}
}

// Connect validates a handshake and registers a new session, per spec
// §4.1's connect operation. Rejection reasons are returned as errors; the
// caller (transport/ws) closes the connection on failure.
func (m *Manager) Connect(sender Sender, userID, username string) (*Session, error) {
	if userID == "" {
		return nil, document.ErrInvalidInput
	}
	sess := &Session{
		UserID:   userID,
		Username: username,
		Sender:   sender,
		Events:   ratelimit.NewConnectionEvents(),
	}
	m.mu.Lock()
	m.sessions[sender.ID()] = sess
	m.mu.Unlock()
	return sess, nil
}

// loader adapts the manager's cache+store read-through path to ot.Loader,
// so the registry can cold-start an engine without importing persistence
// details itself.
type loader struct {
	cache cache.Cache[*document.Document]
	find  func(ctx context.Context, id string) (*document.Document, error)
}

func (l *loader) Load(ctx context.Context, id string) (*document.Document, error) {
	if l.cache != nil {
		if doc, err := l.cache.Get(ctx, id); err == nil {
			return doc, nil
		}
	}
	doc, err := l.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		_ = l.cache.Set(ctx, id, doc, cache.DefaultTTL)
	}
	return doc, nil
}

// resolveDocument implements spec §4.6's read-through rule: a cache hit
// returns directly; a miss falls through to the store; a store miss creates
// the document fresh with the requester as owner (spec §4's lifecycle note)
// and populates the cache immediately.
func (m *Manager) resolveDocument(ctx context.Context, documentID, documentName, requesterID string) (*document.Document, error) {
	if m.cache != nil {
		if doc, err := m.cache.Get(ctx, documentID); err == nil {
			return doc, nil
		}
	}

	doc, err := m.docStore.FindOne(ctx, documentID)
	if errors.Is(err, document.ErrNotFound) {
		now := time.Now()
		doc = &document.Document{
			ID:        documentID,
			Name:      documentName,
			OwnerID:   requesterID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := m.docStore.Upsert(ctx, doc); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if m.cache != nil {
		_ = m.cache.Set(ctx, documentID, doc, cache.DefaultTTL)
	}
	return doc, nil
}

// GetDocument handles the get-document event: it resolves (loading or
// creating) the document, checks the session's permission, joins the
// document's room, and returns the load-document payload.
func (m *Manager) GetDocument(ctx context.Context, sess *Session, documentID, documentName string) (Outbound, error) {
	doc, err := m.resolveDocument(ctx, documentID, documentName, sess.UserID)
	if err != nil {
		return Outbound{}, err
	}

	if err := m.gate.Check(doc, sess.UserID, permission.ActionRead); err != nil {
		return Outbound{Type: EventAccessDenied, Error: err.Error()}, err
	}

	content, version, err := m.registry.Snapshot(ctx, doc.ID)
	if err != nil {
		return Outbound{}, err
	}

	role := m.gate.RoleOf(doc, sess.UserID)
	canEdit := m.gate.Check(doc, sess.UserID, permission.ActionEdit) == nil

	sess.mu.Lock()
	sess.DocumentID = doc.ID
	sess.CanEdit = canEdit
	sess.Version = version
	sess.mu.Unlock()
	m.rooms.Join(doc.ID, sess)
	m.subscribeDocument(ctx, doc.ID)

	return Outbound{
		Type:    EventLoadDocument,
		Data:    content,
		Version: version,
		Role:    string(role),
		CanEdit: canEdit,
	}, nil
}

// SubmitChanges handles send-changes: permission check, OT submission
// against the session's last-known version, cross-instance broadcast to the
// rest of the room, ack to the originator, and staging the new content for
// the persistence pipeline.
func (m *Manager) SubmitChanges(ctx context.Context, sess *Session, ops []document.Operation) (Outbound, error) {
	if !sess.CanEdit {
		return Outbound{Type: EventPermissionError, Error: document.ErrDenied.Error()}, document.ErrDenied
	}

	sess.mu.Lock()
	baseVersion := sess.Version
	sess.mu.Unlock()

	res, err := m.registry.Submit(ctx, sess.DocumentID, sess.ID(), ops, baseVersion)
	if err != nil {
		// A VersionError (ErrClientAhead/ErrClientTooFarBehind) or a
		// validation failure is fatal for this submission; the caller
		// forwards it to the client as the wire's error event.
		return Outbound{}, err
	}

	sess.mu.Lock()
	sess.Version = res.Version
	sess.mu.Unlock()

	payload, _ := json.Marshal(struct {
		Delta          []document.Operation `json:"delta"`
		OriginClientID string               `json:"originClientId"`
	}{Delta: res.Ops, OriginClientID: sess.ID()})

	m.rooms.Broadcast(sess.DocumentID, sess.ID(), broadcast.Message{
		DocumentID: sess.DocumentID,
		Event:      EventReceiveChanges,
		Payload:    payload,
		Version:    res.Version,
	})
	if m.bus != nil {
		if err := m.bus.Publish(ctx, sess.DocumentID, broadcast.Message{
			DocumentID:     sess.DocumentID,
			Event:          EventReceiveChanges,
			Payload:        payload,
			Version:        res.Version,
			OriginInstance: m.instanceID,
		}); err != nil {
			m.logger.Warn("session: bus publish failed", zap.String("documentId", sess.DocumentID), zap.Error(err))
		}
	}

	content, _, err := m.registry.Snapshot(ctx, sess.DocumentID)
	if err == nil {
		m.pipeline.Stage(sess.DocumentID, persistence.Snapshot{Content: content, Version: res.Version})
	}

	return Outbound{Type: EventAck, Version: res.Version, Transformed: res.Transformed}, nil
}

// SaveDocument handles save-document: it only updates the coalescing
// buffer, per spec §4.5; it never touches the OT engine's version. Editor+
// is enforced at write time per spec §4.5/§7: a viewer's save is rejected
// with permission-error and never reaches the buffer, the cache, or the
// store.
func (m *Manager) SaveDocument(sess *Session, content string, version int64) (Outbound, error) {
	if !sess.CanEdit {
		return Outbound{Type: EventPermissionError, Error: document.ErrDenied.Error()}, document.ErrDenied
	}
	m.pipeline.Stage(sess.DocumentID, persistence.Snapshot{Content: content, Version: version})
	return Outbound{}, nil
}

// Disconnect handles the disconnect event: it emits user-left to the room,
// removes the session, and flushes the buffer synchronously if this was the
// room's last participant, per spec §4.1 and §4.5.
func (m *Manager) Disconnect(ctx context.Context, sess *Session) {
	m.mu.Lock()
	delete(m.sessions, sess.ID())
	m.mu.Unlock()

	if sess.DocumentID == "" {
		return
	}

	empty := m.rooms.Leave(sess.DocumentID, sess.ID())
	leftPayload, _ := json.Marshal(struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}{UserID: sess.UserID, Username: sess.Username})
	m.rooms.Broadcast(sess.DocumentID, sess.ID(), broadcast.Message{
		DocumentID: sess.DocumentID,
		Event:      EventUserLeft,
		Payload:    leftPayload,
	})

	if empty {
		if err := m.pipeline.FlushNow(ctx, sess.DocumentID); err != nil {
			m.logger.Warn("session: flush on last leave failed",
				zap.String("documentId", sess.DocumentID), zap.Error(err))
		}
		m.registry.Evict(sess.DocumentID)
		m.unsubscribeDocument(sess.DocumentID)
	}
}

// NewLoader builds the ot.Loader the registry should cold-start engines
// with, reading through docCache before falling back to find.
func NewLoader(docCache cache.Cache[*document.Document], find func(ctx context.Context, id string) (*document.Document, error)) ot.Loader {
	return &loader{cache: docCache, find: find}
}
