package ot

import (
	"time"

	"collabdocs/internal/document"
)

// SubmitResult is returned to the caller of Engine.Submit once the engine has
// serialized the operation set against the document's history.
type SubmitResult struct {
	Ops         []document.Operation
	Version     int64
	Transformed bool
}

// Engine is the authoritative, single-writer state machine for one document.
// It owns Content, Version and History, and admits one OperationSet at a
// time: the caller (the per-document worker in Registry) is responsible for
// serializing access, so Engine itself does no locking.
type Engine struct {
	DocumentID string
	Content    string
	Version    int64
	History    []document.HistoryEntry
}

// NewEngine seeds an engine from a loaded document.
func NewEngine(doc *document.Document) *Engine {
	return &Engine{
		DocumentID: doc.ID,
		Content:    doc.Content,
		Version:    doc.Version,
		History:    doc.History,
	}
}

// Submit admits a client's operation set against the engine's current state,
// per spec §4.3's three baseVersion cases:
//
//   - baseVersion > Version: the client has seen a future the server never
//     produced; this is fatal (ErrClientAhead).
//   - baseVersion == Version: ops apply directly, no transform needed.
//   - baseVersion < Version: ops are transformed against every history entry
//     since baseVersion, in order, before being applied.
//
// On success the engine's Content and Version advance and the accepted
// (possibly transformed) ops are appended to History.
func (e *Engine) Submit(originID string, ops []document.Operation, baseVersion int64, at time.Time) (SubmitResult, error) {
	if baseVersion > e.Version {
		return SubmitResult{}, document.NewClientAheadError(e.DocumentID, baseVersion, e.Version)
	}

	working := ops
	transformed := false

	if baseVersion < e.Version {
		entries, inWindow := e.HistorySince(baseVersion)
		if !inWindow {
			return SubmitResult{}, document.NewClientTooFarBehindError(e.DocumentID, baseVersion, e.Version)
		}
		for _, entry := range entries {
			// The incoming client is never the left-priority side against
			// already-committed history: history won the race.
			working = TransformSet(working, entry.Ops, false)
			transformed = true
		}
	}

	contentLen := len([]rune(e.Content))
	for _, op := range working {
		if err := op.Validate(contentLen); err != nil {
			return SubmitResult{}, err
		}
		contentLen += op.Len()
	}

	e.Content = ApplySet(e.Content, working)
	e.Version++

	e.appendHistory(document.HistoryEntry{
		Ops:      Compose(working),
		Version:  e.Version,
		OriginID: originID,
		At:       at,
	})

	return SubmitResult{Ops: working, Version: e.Version, Transformed: transformed}, nil
}

func (e *Engine) appendHistory(entry document.HistoryEntry) {
	e.History = append(e.History, entry)
	if len(e.History) > document.HistoryMaxOps {
		e.History = e.History[len(e.History)-document.HistoryMaxOps:]
	}
}

// HistorySince mirrors document.Document.HistorySince against the engine's
// own live history slice.
func (e *Engine) HistorySince(baseVersion int64) ([]document.HistoryEntry, bool) {
	if len(e.History) == 0 {
		return nil, baseVersion == e.Version
	}
	oldestRetained := e.History[0].Version - 1
	if baseVersion < oldestRetained {
		return nil, false
	}
	var out []document.HistoryEntry
	for _, h := range e.History {
		if h.Version > baseVersion {
			out = append(out, h)
		}
	}
	return out, true
}

// Snapshot returns the document state the engine currently holds, for
// handing off to persistence or to a newly joining client.
func (e *Engine) Snapshot() (content string, version int64) {
	return e.Content, e.Version
}
