package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collabdocs/internal/broadcast"
	"collabdocs/internal/cache"
	"collabdocs/internal/document"
	"collabdocs/internal/ot"
	"collabdocs/internal/permission"
	"collabdocs/internal/persistence"
	"collabdocs/internal/store"
)

type fakeSender struct {
	id string

	mu  sync.Mutex
	out []Outbound
}

func (f *fakeSender) ID() string { return f.id }
func (f *fakeSender) Send(out Outbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, out)
}
func (f *fakeSender) Close() error { return nil }

func (f *fakeSender) last() Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.out) == 0 {
		return Outbound{}
	}
	return f.out[len(f.out)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.out)
}

// fakeStore satisfies both persistence.Persister and session.DocumentStore
// without touching Mongo.
type fakeStore struct {
	mu   sync.Mutex
	docs map[string]*document.Document
}

func newFakeStore(docs ...*document.Document) *fakeStore {
	s := &fakeStore{docs: make(map[string]*document.Document)}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *fakeStore) find(_ context.Context, id string) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, document.ErrNotFound
	}
	return doc.Copy(), nil
}

func (s *fakeStore) FindOne(ctx context.Context, id string) (*document.Document, error) {
	return s.find(ctx, id)
}

func (s *fakeStore) Upsert(_ context.Context, doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; !ok {
		s.docs[doc.ID] = doc.Copy()
	}
	return nil
}

func (s *fakeStore) FindOneAndUpdate(_ context.Context, id string, fn store.EditFunc) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		doc = &document.Document{ID: id}
	}
	working := doc.Copy()
	if err := fn(working); err != nil {
		return nil, err
	}
	s.docs[id] = working
	return working, nil
}

func newTestManager(t *testing.T, docs ...*document.Document) (*Manager, *fakeStore) {
	t.Helper()
	fs := newFakeStore(docs...)
	docCache := cache.NewMemoryCache[*document.Document](time.Minute, nil)
	registry := ot.NewRegistry(NewLoader(docCache, fs.find))
	rooms := broadcast.NewRooms()
	bus := broadcast.NewMemoryBus()
	pipeline := persistence.New(fs, docCache, zap.NewNop(), time.Hour)
	gate := permission.New("admin-1")
	m := NewManager(gate, registry, rooms, bus, pipeline, fs, docCache, zap.NewNop(), "instance-a")
	return m, fs
}

func TestManagerGetDocumentGrantsEditorCanEdit(t *testing.T) {
	doc := &document.Document{ID: "doc-1", OwnerID: "owner-1", Content: "hello",
		Permissions: map[string]document.Role{"editor-1": document.RoleEditor}}
	m, _ := newTestManager(t, doc)

	sess, err := m.Connect(&fakeSender{id: "conn-1"}, "editor-1", "Edi")
	require.NoError(t, err)

	out, err := m.GetDocument(context.Background(), sess, "doc-1", "irrelevant once it exists")
	require.NoError(t, err)
	assert.Equal(t, EventLoadDocument, out.Type)
	assert.Equal(t, "hello", out.Data)
	assert.True(t, out.CanEdit)
	assert.Equal(t, string(document.RoleEditor), out.Role)
	assert.Equal(t, 1, m.rooms.Count("doc-1"))
}

func TestManagerGetDocumentDeniesUnlistedPrincipal(t *testing.T) {
	doc := &document.Document{ID: "doc-1", OwnerID: "owner-1", Content: "secret",
		Permissions: map[string]document.Role{}}
	m, _ := newTestManager(t, doc)
	sess, err := m.Connect(&fakeSender{id: "conn-1"}, "stranger", "S")
	require.NoError(t, err)

	out, err := m.GetDocument(context.Background(), sess, "doc-1", "secret")
	assert.ErrorIs(t, err, document.ErrDenied)
	assert.Equal(t, EventAccessDenied, out.Type)
}

func TestManagerGetDocumentCreatesFreshDocumentWithRequesterAsOwner(t *testing.T) {
	m, fs := newTestManager(t)
	sess, err := m.Connect(&fakeSender{id: "conn-1"}, "new-user", "N")
	require.NoError(t, err)

	out, err := m.GetDocument(context.Background(), sess, "doc-new", "My Doc")
	require.NoError(t, err)
	assert.Equal(t, EventLoadDocument, out.Type)
	assert.True(t, out.CanEdit)
	assert.Equal(t, string(document.RoleOwner), out.Role)

	persisted, ferr := fs.find(context.Background(), "doc-new")
	require.NoError(t, ferr)
	assert.Equal(t, "new-user", persisted.OwnerID)
	assert.Equal(t, "My Doc", persisted.Name)
}

func TestManagerSubmitChangesRejectsViewerEdit(t *testing.T) {
	doc := &document.Document{ID: "doc-1", OwnerID: "owner-1", Content: "hello",
		Permissions: map[string]document.Role{"viewer-1": document.RoleViewer}}
	m, _ := newTestManager(t, doc)

	sess, err := m.Connect(&fakeSender{id: "conn-1"}, "viewer-1", "V")
	require.NoError(t, err)
	_, err = m.GetDocument(context.Background(), sess, "doc-1", "")
	require.NoError(t, err)

	_, err = m.SubmitChanges(context.Background(), sess,
		[]document.Operation{{Type: document.OpInsert, Position: 0, Content: "X"}})
	assert.ErrorIs(t, err, document.ErrDenied)
}

func TestManagerSaveDocumentRejectsViewerWrite(t *testing.T) {
	doc := &document.Document{ID: "doc-1", OwnerID: "owner-1", Content: "hello",
		Permissions: map[string]document.Role{"viewer-1": document.RoleViewer}}
	m, fs := newTestManager(t, doc)

	sess, err := m.Connect(&fakeSender{id: "conn-1"}, "viewer-1", "V")
	require.NoError(t, err)
	_, err = m.GetDocument(context.Background(), sess, "doc-1", "")
	require.NoError(t, err)

	out, err := m.SaveDocument(sess, "tampered", 1)
	assert.ErrorIs(t, err, document.ErrDenied)
	assert.Equal(t, EventPermissionError, out.Type)

	m.Disconnect(context.Background(), sess)
	persisted, ferr := fs.find(context.Background(), "doc-1")
	require.NoError(t, ferr)
	assert.Equal(t, "hello", persisted.Content, "a denied save must never reach the buffer or the store")
}

func TestManagerSaveDocumentAcceptsEditorWrite(t *testing.T) {
	doc := &document.Document{ID: "doc-1", OwnerID: "owner-1", Content: "hello"}
	m, fs := newTestManager(t, doc)

	sess, err := m.Connect(&fakeSender{id: "conn-1"}, "owner-1", "O")
	require.NoError(t, err)
	_, err = m.GetDocument(context.Background(), sess, "doc-1", "")
	require.NoError(t, err)

	_, err = m.SaveDocument(sess, "hello world", 1)
	require.NoError(t, err)

	m.Disconnect(context.Background(), sess)
	persisted, ferr := fs.find(context.Background(), "doc-1")
	require.NoError(t, ferr)
	assert.Equal(t, "hello world", persisted.Content)
}

func TestManagerSubmitChangesBroadcastsToOtherRoomMembers(t *testing.T) {
	doc := &document.Document{ID: "doc-1", OwnerID: "owner-1", Content: "hello"}
	m, _ := newTestManager(t, doc)

	aSender := &fakeSender{id: "conn-a"}
	bSender := &fakeSender{id: "conn-b"}
	a, err := m.Connect(aSender, "owner-1", "A")
	require.NoError(t, err)
	b, err := m.Connect(bSender, "owner-1", "B")
	require.NoError(t, err)

	_, err = m.GetDocument(context.Background(), a, "doc-1", "")
	require.NoError(t, err)
	_, err = m.GetDocument(context.Background(), b, "doc-1", "")
	require.NoError(t, err)

	out, err := m.SubmitChanges(context.Background(), a,
		[]document.Operation{{Type: document.OpInsert, Position: 5, Content: " world"}})
	require.NoError(t, err)
	assert.Equal(t, EventAck, out.Type)
	assert.EqualValues(t, 1, out.Version)

	require.Eventually(t, func() bool { return bSender.count() > 0 }, time.Second, 5*time.Millisecond)
	recv := bSender.last()
	assert.Equal(t, EventReceiveChanges, recv.Type)
	assert.EqualValues(t, 1, recv.Version)
	assert.Equal(t, 0, aSender.count(), "origin should not receive its own broadcast")
}

func TestManagerSubmitChangesUsesSessionTrackedVersionAsBase(t *testing.T) {
	doc := &document.Document{ID: "doc-1", OwnerID: "owner-1", Content: "hello"}
	m, _ := newTestManager(t, doc)

	aSender := &fakeSender{id: "conn-a"}
	a, err := m.Connect(aSender, "owner-1", "A")
	require.NoError(t, err)
	_, err = m.GetDocument(context.Background(), a, "doc-1", "")
	require.NoError(t, err)

	out1, err := m.SubmitChanges(context.Background(), a,
		[]document.Operation{{Type: document.OpInsert, Position: 5, Content: "!"}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, out1.Version)

	// Without the client re-sending a base version, the session's own
	// tracked version must have advanced so the next edit submits cleanly
	// against the new current version instead of replaying version 0.
	out2, err := m.SubmitChanges(context.Background(), a,
		[]document.Operation{{Type: document.OpInsert, Position: 6, Content: "!"}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, out2.Version)
	assert.False(t, out2.Transformed)
}

func TestManagerDisconnectFlushesOnLastLeave(t *testing.T) {
	doc := &document.Document{ID: "doc-1", OwnerID: "owner-1", Content: "hello"}
	m, fs := newTestManager(t, doc)

	sess, err := m.Connect(&fakeSender{id: "conn-1"}, "owner-1", "O")
	require.NoError(t, err)
	_, err = m.GetDocument(context.Background(), sess, "doc-1", "")
	require.NoError(t, err)

	_, err = m.SubmitChanges(context.Background(), sess,
		[]document.Operation{{Type: document.OpInsert, Position: 5, Content: "!"}})
	require.NoError(t, err)

	m.Disconnect(context.Background(), sess)

	persisted, ferr := fs.find(context.Background(), "doc-1")
	require.NoError(t, ferr)
	assert.Equal(t, "hello!", persisted.Content)
	assert.Equal(t, 0, m.rooms.Count("doc-1"))
}

func TestManagerDisconnectNotifiesRemainingMembers(t *testing.T) {
	doc := &document.Document{ID: "doc-1", OwnerID: "owner-1", Content: "hello"}
	m, _ := newTestManager(t, doc)

	aSender := &fakeSender{id: "conn-a"}
	bSender := &fakeSender{id: "conn-b"}
	a, err := m.Connect(aSender, "owner-1", "A")
	require.NoError(t, err)
	b, err := m.Connect(bSender, "owner-1", "Bob")
	require.NoError(t, err)

	_, err = m.GetDocument(context.Background(), a, "doc-1", "")
	require.NoError(t, err)
	_, err = m.GetDocument(context.Background(), b, "doc-1", "")
	require.NoError(t, err)

	m.Disconnect(context.Background(), a)

	require.Eventually(t, func() bool { return bSender.count() > 0 }, time.Second, 5*time.Millisecond)
	notice := bSender.last()
	assert.Equal(t, EventUserLeft, notice.Type)
	assert.Equal(t, "owner-1", notice.UserID)
}

func TestManagerConnectRejectsEmptyUserID(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Connect(&fakeSender{id: "conn-1"}, "", "nobody")
	assert.ErrorIs(t, err, document.ErrInvalidInput)
}
