// Package memory provides in-memory implementations of the storage
// interfaces. Used by tests and by the dev-mode server (STORE=memory).
package memory

import (
	"context"
	"sort"
	"sync"

	"cantus/internal/core/apperror"
	"cantus/internal/core/id"
	"cantus/internal/domain/schema"
)

// Store is a mutex-guarded map-per-collection implementation of schema.Store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[id.ID]schema.Record
}

var _ schema.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{collections: make(map[string]map[id.ID]schema.Record)}
}

// Seed inserts a record without error handling. Tests only.
func (s *Store) Seed(collection string, rec schema.Record) schema.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(collection)[rec.ID] = rec.Clone()
	return rec
}

// bucket returns the live map for a collection. Caller holds mu.
func (s *Store) bucket(collection string) map[id.ID]schema.Record {
	b, ok := s.collections[collection]
	if !ok {
		b = make(map[id.ID]schema.Record)
		s.collections[collection] = b
	}
	return b
}

func (s *Store) Get(ctx context.Context, collection string, recID id.ID) (schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.collections[collection][recID]
	if !ok {
		return schema.Record{}, apperror.NewNotFound(collection, recID.String())
	}
	return rec.Clone(), nil
}

func (s *Store) Exists(ctx context.Context, collection string, recID id.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[collection][recID]
	return ok, nil
}

func (s *Store) FindByField(ctx context.Context, collection, field, value string) ([]schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []schema.Record
	for _, rec := range s.collections[collection] {
		if rec.StringField(field) == value {
			out = append(out, rec.Clone())
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *Store) ListAll(ctx context.Context, collection string) ([]schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]schema.Record, 0, len(s.collections[collection]))
	for _, rec := range s.collections[collection] {
		out = append(out, rec.Clone())
	}
	sortRecords(out)
	return out, nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection]), nil
}

func (s *Store) Insert(ctx context.Context, collection string, recs []schema.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucket(collection)
	for _, rec := range recs {
		if _, exists := b[rec.ID]; exists {
			return apperror.NewConflict("record already exists").
				WithDetail("collection", collection).
				WithDetail("id", rec.ID.String())
		}
	}
	for _, rec := range recs {
		b[rec.ID] = rec.Clone()
	}
	return nil
}

func (s *Store) DeleteByIDs(ctx context.Context, collection string, ids []id.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.collections[collection]
	deleted := 0
	for _, recID := range ids {
		if _, ok := b[recID]; ok {
			delete(b, recID)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) SetField(ctx context.Context, collection string, recID id.ID, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.collections[collection][recID]
	if !ok {
		return apperror.NewNotFound(collection, recID.String())
	}
	updated := rec.Clone()
	if value == nil {
		delete(updated.Fields, field)
	} else {
		updated.Fields[field] = value
	}
	s.collections[collection][recID] = updated
	return nil
}

// sortRecords orders by time-ordered ID so results are deterministic.
func sortRecords(recs []schema.Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].ID.String() < recs[j].ID.String()
	})
}
