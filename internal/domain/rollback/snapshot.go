// Package rollback provides pre-deletion snapshots and point-in-time
// restoration. A snapshot is consumed exactly once; restoring it takes a
// fresh snapshot of the restored state, forming an append-only chain.
package rollback

import (
	"context"
	"time"

	"cantus/internal/core/id"
	"cantus/internal/domain/schema"
)

// Snapshot is a point-in-time copy of every record a cascade is about to
// delete, including the target entity itself.
type Snapshot struct {
	ID          id.ID                      `json:"id"`
	OperationID id.ID                      `json:"operationId"`
	TargetRef   schema.EntityRef           `json:"targetRef"`
	Records     map[string][]schema.Record `json:"records"`
	TakenAt     time.Time                  `json:"takenAt"`
	ConsumedAt  *time.Time                 `json:"consumedAt,omitempty"`
}

// RecordCount returns the total number of captured records.
func (s *Snapshot) RecordCount() int {
	total := 0
	for _, recs := range s.Records {
		total += len(recs)
	}
	return total
}

// Store is the persistence port for snapshots. Save must be atomic: a
// snapshot is either fully written or absent, even if the invoking request
// is cancelled mid-flight.
type Store interface {
	Save(ctx context.Context, snap *Snapshot) error
	Get(ctx context.Context, snapID id.ID) (*Snapshot, error)
	MarkConsumed(ctx context.Context, snapID id.ID, at time.Time) error
}
