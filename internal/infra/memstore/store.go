// Package memstore is the in-process analysis store. Records live for the
// lifetime of the process and are never deleted.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/bryanwahyu/tradelane/internal/domain/analysis"
	"github.com/bryanwahyu/tradelane/internal/domain/trade"
)

// Store keeps records in a map guarded by a RWMutex. Stored pointers are
// never mutated after Save, so readers share them without copying.
type Store struct {
	mu      sync.RWMutex
	records map[analysis.ID]*analysis.Record
	order   []analysis.ID // insertion order
}

func New() *Store {
	return &Store{records: map[analysis.ID]*analysis.Record{}}
}

var _ analysis.Store = (*Store)(nil)

// Save inserts r. Ids are unique; a duplicate id is an invariant violation.
func (s *Store) Save(_ context.Context, r *analysis.Record) error {
	if r == nil || r.ID == "" {
		return trade.Invariantf("memstore: record without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; ok {
		return trade.Invariantf("memstore: duplicate analysis id %s", r.ID)
	}
	s.records[r.ID] = r
	s.order = append(s.order, r.ID)
	return nil
}

func (s *Store) Get(_ context.Context, id analysis.ID) (*analysis.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, trade.NotFoundf("analysis %s not found", id)
	}
	return r, nil
}

// List returns page (1-based) of pageSize records, newest first. Records with
// the same timestamp keep reverse insertion order.
func (s *Store) List(_ context.Context, page, pageSize int) ([]*analysis.Record, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	s.mu.RLock()
	all := make([]*analysis.Record, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		all = append(all, s.records[s.order[i]])
	}
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []*analysis.Record{}, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
