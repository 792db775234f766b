package memory

import (
	"context"
	"sync"
	"time"

	"cantus/internal/core/apperror"
	"cantus/internal/core/id"
	"cantus/internal/domain/rollback"
	"cantus/internal/domain/schema"
)

// SnapshotStore is an in-memory rollback.Store. Save replaces the whole
// entry under the lock, so a snapshot is never observable half-written.
type SnapshotStore struct {
	mu    sync.RWMutex
	snaps map[id.ID]*rollback.Snapshot
}

var _ rollback.Store = (*SnapshotStore)(nil)

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snaps: make(map[id.ID]*rollback.Snapshot)}
}

func (s *SnapshotStore) Save(ctx context.Context, snap *rollback.Snapshot) error {
	clone := cloneSnapshot(snap)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ID] = clone
	return nil
}

func (s *SnapshotStore) Get(ctx context.Context, snapID id.ID) (*rollback.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[snapID]
	if !ok {
		return nil, apperror.NewNotFound("snapshot", snapID.String())
	}
	return cloneSnapshot(snap), nil
}

func (s *SnapshotStore) MarkConsumed(ctx context.Context, snapID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[snapID]
	if !ok {
		return apperror.NewNotFound("snapshot", snapID.String())
	}
	snap.ConsumedAt = &at
	return nil
}

func cloneSnapshot(snap *rollback.Snapshot) *rollback.Snapshot {
	clone := *snap
	clone.Records = make(map[string][]schema.Record, len(snap.Records))
	for collection, recs := range snap.Records {
		cloned := make([]schema.Record, 0, len(recs))
		for _, rec := range recs {
			cloned = append(cloned, rec.Clone())
		}
		clone.Records[collection] = cloned
	}
	if snap.ConsumedAt != nil {
		at := *snap.ConsumedAt
		clone.ConsumedAt = &at
	}
	return &clone
}
