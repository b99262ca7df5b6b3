package persistence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collabdocs/internal/document"
	"collabdocs/internal/store"
)

type fakePersister struct {
	mu       sync.Mutex
	calls    int32
	lastBody string
	failNext bool
}

func (f *fakePersister) FindOneAndUpdate(ctx context.Context, id string, fn store.EditFunc) (*document.Document, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	fail := f.failNext
	f.failNext = false
	f.mu.Unlock()
	if fail {
		return nil, errors.New("boom")
	}
	doc := &document.Document{ID: id}
	if err := fn(doc); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastBody = doc.Content
	f.mu.Unlock()
	return doc, nil
}

func TestPipelineFlushNowWritesStagedSnapshot(t *testing.T) {
	p := New(&fakePersister{}, nil, zap.NewNop(), time.Hour)
	fp := p.store.(*fakePersister)

	p.Stage("doc-1", Snapshot{Content: "hello", Version: 3})
	require.NoError(t, p.FlushNow(context.Background(), "doc-1"))

	assert.Equal(t, "hello", fp.lastBody)
	assert.EqualValues(t, 1, fp.calls)
}

func TestPipelineFlushNowNoopWithoutPendingWrite(t *testing.T) {
	p := New(&fakePersister{}, nil, zap.NewNop(), time.Hour)
	fp := p.store.(*fakePersister)

	require.NoError(t, p.FlushNow(context.Background(), "doc-1"))
	assert.EqualValues(t, 0, fp.calls)
}

func TestPipelineStageCoalescesUntilFlush(t *testing.T) {
	p := New(&fakePersister{}, nil, zap.NewNop(), time.Hour)
	fp := p.store.(*fakePersister)

	p.Stage("doc-1", Snapshot{Content: "v1"})
	p.Stage("doc-1", Snapshot{Content: "v2"})
	p.Stage("doc-1", Snapshot{Content: "v3"})

	require.NoError(t, p.FlushNow(context.Background(), "doc-1"))
	assert.Equal(t, "v3", fp.lastBody)
	assert.EqualValues(t, 1, fp.calls)
}

func TestPipelineMarksDegradedOnFailure(t *testing.T) {
	fp := &fakePersister{failNext: true}
	p := New(fp, nil, zap.NewNop(), time.Hour)

	p.Stage("doc-1", Snapshot{Content: "hello"})
	err := p.FlushNow(context.Background(), "doc-1")
	assert.Error(t, err)
	assert.True(t, p.Degraded("doc-1"))
}

func TestPipelineAutoFlushesAfterInterval(t *testing.T) {
	fp := &fakePersister{}
	p := New(fp, nil, zap.NewNop(), 10*time.Millisecond)

	p.Stage("doc-1", Snapshot{Content: "auto"})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fp.calls) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "auto", fp.lastBody)
}
