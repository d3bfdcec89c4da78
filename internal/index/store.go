// Package index holds the current set of indexed procedure documents as an
// immutable snapshot behind an atomic pointer. The sync service is the only
// writer; search and context assembly read whichever snapshot is current
// when their request starts and keep it for the request's duration.
package index

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/sopdesk/backend/internal/storage/models"
)

type Snapshot struct {
	byID     map[string]*models.ProcedureDocument
	ordered  []*models.ProcedureDocument
	lastSync time.Time
}

// Documents returns the documents sorted by (category, title). Callers must
// treat the returned documents as read-only.
func (s *Snapshot) Documents() []*models.ProcedureDocument {
	return s.ordered
}

func (s *Snapshot) Get(id string) (*models.ProcedureDocument, bool) {
	doc, ok := s.byID[id]
	return doc, ok
}

func (s *Snapshot) Len() int {
	return len(s.ordered)
}

func (s *Snapshot) LastSync() time.Time {
	return s.lastSync
}

type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore() *Store {
	store := &Store{}
	store.current.Store(newSnapshot(nil, time.Time{}))
	return store
}

func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Publish replaces the current snapshot wholesale. Documents must be fully
// built before publishing; nothing mutates them afterwards.
func (s *Store) Publish(docs []*models.ProcedureDocument, syncTime time.Time) *Snapshot {
	snap := newSnapshot(docs, syncTime)
	s.current.Store(snap)
	return snap
}

func newSnapshot(docs []*models.ProcedureDocument, syncTime time.Time) *Snapshot {
	snap := &Snapshot{
		byID:     make(map[string]*models.ProcedureDocument, len(docs)),
		ordered:  make([]*models.ProcedureDocument, 0, len(docs)),
		lastSync: syncTime,
	}

	for _, doc := range docs {
		if _, dup := snap.byID[doc.ID]; dup {
			continue
		}
		snap.byID[doc.ID] = doc
		snap.ordered = append(snap.ordered, doc)
	}

	sort.Slice(snap.ordered, func(i, j int) bool {
		a, b := snap.ordered[i], snap.ordered[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Title < b.Title
	})

	return snap
}
