package document

import (
	"time"

	"github.com/jinzhu/copier"
)

// Role is a principal's effective access level on a document.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleGuest  Role = "guest"
)

// HistoryMaxOps bounds the per-document ring buffer of accepted operation
// sets, per spec §4.3 and §5 (K=1000).
const HistoryMaxOps = 1000

// HistoryEntry is one accepted operation set retained for transforming
// clients that submit against a stale base version.
type HistoryEntry struct {
	Ops      []Operation `bson:"ops"`
	Version  int64       `bson:"version"`
	OriginID string      `bson:"originId"`
	At       time.Time   `bson:"at"`
}

// Document is the authoritative record for one collaboratively edited
// document. Content is the flat canonical text described by spec §3; the
// Delta form (retain/insert/delete) only ever exists transiently as an
// OperationSet moving through the OT engine.
type Document struct {
	ID          string          `bson:"_id" json:"id"`
	Name        string          `bson:"name" json:"name"`
	OwnerID     string          `bson:"ownerId" json:"ownerId"`
	Content     string          `bson:"data" json:"data"`
	Permissions map[string]Role `bson:"permissions" json:"permissions"`
	Version     int64           `bson:"-" json:"version"`
	History     []HistoryEntry  `bson:"-" json:"-"`
	Revision    int64           `bson:"revision" json:"-"`
	CreatedAt   time.Time       `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time       `bson:"updatedAt" json:"updatedAt"`
}

// Copy returns a deep copy of the document, satisfying the Cachable[T]
// contract the storage and cache layers rely on for optimistic concurrency
// and to avoid aliasing between a live engine copy and a buffered or
// cached copy. copier.CopyWithOption with DeepCopy handles the Permissions
// map and History slice without hand-rolled field-by-field cloning.
func (d *Document) Copy() *Document {
	if d == nil {
		return nil
	}
	var out Document
	_ = copier.CopyWithOption(&out, d, copier.Option{DeepCopy: true})
	return &out
}

// AppendHistory appends an accepted entry to the bounded ring, dropping the
// oldest entry once the retained window exceeds HistoryMaxOps.
func (d *Document) AppendHistory(entry HistoryEntry) {
	d.History = append(d.History, entry)
	if len(d.History) > HistoryMaxOps {
		d.History = d.History[len(d.History)-HistoryMaxOps:]
	}
}

// HistorySince returns the retained entries with version strictly greater
// than baseVersion, in ascending version order, along with whether
// baseVersion still falls within the retained window.
func (d *Document) HistorySince(baseVersion int64) ([]HistoryEntry, bool) {
	if len(d.History) == 0 {
		return nil, baseVersion == d.Version
	}
	// Each entry advances the document by exactly one version (invariant
	// 1), so the oldest usable base is the version preceding the first
	// retained entry.
	oldestRetained := d.History[0].Version - 1
	if baseVersion < oldestRetained {
		return nil, false
	}
	var out []HistoryEntry
	for _, h := range d.History {
		if h.Version > baseVersion {
			out = append(out, h)
		}
	}
	return out, true
}
