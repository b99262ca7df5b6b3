// Package persistence coalesces rapid edits into infrequent durable writes,
// per spec §4.5: each document gets one buffered pending-write slot, a
// 2000ms flush timer, and a flush triggered immediately when the last
// client leaves. At most one flush per document is ever in flight.
package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"collabdocs/internal/cache"
	"collabdocs/internal/document"
	"collabdocs/internal/store"
)

// DefaultFlushInterval is the coalescing window per spec §6's configuration
// table.
const DefaultFlushInterval = 2 * time.Second

// Persister is the durable-write dependency the pipeline flushes through;
// *store.Store satisfies it. Declaring it here (rather than depending on
// *store.Store directly) lets tests substitute a fake that never touches
// Mongo.
type Persister interface {
	FindOneAndUpdate(ctx context.Context, id string, fn store.EditFunc) (*document.Document, error)
}

// Snapshot is the content a worker hands to the pipeline after accepting an
// operation set.
type Snapshot struct {
	Content string
	Version int64
}

type slot struct {
	mu       sync.Mutex
	pending  *Snapshot
	timer    *time.Timer
	flushing bool
	degraded bool
}

// Pipeline owns one pending-write slot per document.
type Pipeline struct {
	store    Persister
	cache    cache.Cache[*document.Document]
	logger   *zap.Logger
	interval time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

// New builds a pipeline writing through st and refreshing c with the stored
// document on every successful flush.
func New(st Persister, c cache.Cache[*document.Document], logger *zap.Logger, interval time.Duration) *Pipeline {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Pipeline{
		store:    st,
		cache:    c,
		logger:   logger,
		interval: interval,
		slots:    make(map[string]*slot),
	}
}

func (p *Pipeline) slotFor(documentID string) *slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[documentID]
	if !ok {
		s = &slot{}
		p.slots[documentID] = s
	}
	return s
}

// Stage buffers the document's latest accepted state, overwriting whatever
// was previously buffered and unflushed, and arms the flush timer if one
// isn't already running.
func (p *Pipeline) Stage(documentID string, snap Snapshot) {
	s := p.slotFor(documentID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = &snap
	if s.timer == nil {
		s.timer = time.AfterFunc(p.interval, func() {
			p.flush(documentID, s)
		})
	}
}

// FlushNow forces an immediate flush of whatever is staged, for use on
// last-leave. It blocks until the write attempt completes, unless another
// flush of the document is already in flight: then the snapshot is re-staged
// for the flush that follows it and FlushNow returns nil at once.
func (p *Pipeline) FlushNow(ctx context.Context, documentID string) error {
	s := p.slotFor(documentID)
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending == nil {
		return nil
	}
	return p.write(ctx, documentID, *pending, s)
}

func (p *Pipeline) flush(documentID string, s *slot) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	if pending == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.write(ctx, documentID, *pending, s); err != nil {
		p.logger.Warn("persistence: flush failed", zap.String("documentId", documentID), zap.Error(err))
	}
}

func (p *Pipeline) write(ctx context.Context, documentID string, snap Snapshot, s *slot) error {
	s.mu.Lock()
	if s.flushing {
		// Another flush is already in flight; re-stage so it's picked up
		// once that one completes, rather than racing a second write.
		s.pending = &snap
		s.mu.Unlock()
		return nil
	}
	s.flushing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.flushing = false
		if s.pending != nil && s.timer == nil {
			s.timer = time.AfterFunc(p.interval, func() {
				p.flush(documentID, s)
			})
		}
		s.mu.Unlock()
	}()

	updated, err := p.store.FindOneAndUpdate(ctx, documentID, func(doc *document.Document) error {
		doc.Content = snap.Content
		return nil
	})
	if err != nil {
		s.mu.Lock()
		s.degraded = true
		if s.pending == nil {
			// Keep the failed snapshot for the next flush cycle unless a
			// newer one was staged meanwhile.
			s.pending = &snap
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.degraded = false
	s.mu.Unlock()

	if p.cache != nil {
		if err := p.cache.Set(ctx, documentID, updated, 0); err != nil {
			p.logger.Warn("persistence: cache write-through failed", zap.String("documentId", documentID), zap.Error(err))
		}
	}
	return nil
}

// Degraded reports whether the document's last flush attempt failed,
// meaning the engine is accepting edits it hasn't yet durably persisted.
func (p *Pipeline) Degraded(documentID string) bool {
	s := p.slotFor(documentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}
