package rollback

import (
	"context"
	"fmt"
	"time"

	"cantus/internal/core/apperror"
	"cantus/internal/core/id"
	"cantus/internal/core/tx"
	"cantus/internal/domain/audit"
	"cantus/internal/domain/schema"
	"cantus/pkg/logger"
)

// ActiveChecker reports the live deletion operation holding a target, if
// any. Satisfied by the cascade operation registry.
type ActiveChecker interface {
	ActiveOperationID(targetKey string) (id.ID, bool)
}

// Outcome reports a completed rollback.
type Outcome struct {
	SnapshotID      id.ID            `json:"snapshotId"`
	NewSnapshotID   id.ID            `json:"newSnapshotId"`
	TargetRef       schema.EntityRef `json:"targetRef"`
	RestoredRecords int              `json:"restoredRecords"`
	SkippedRecords  int              `json:"skippedRecords"`
	Collections     []string         `json:"collections"`
}

// Service restores deleted records from snapshots.
type Service struct {
	store     schema.Store
	snapshots Store
	txm       tx.Manager
	active    ActiveChecker
	recorder  *audit.Recorder
	log       *logger.Logger
}

// NewService creates a rollback service. active may be nil, in which case
// rollbacks do not check for a concurrent deletion of the same target.
func NewService(store schema.Store, snapshots Store, txm tx.Manager, active ActiveChecker, recorder *audit.Recorder, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		snapshots: snapshots,
		txm:       txm,
		active:    active,
		recorder:  recorder,
		log:       log.WithComponent("rollback"),
	}
}

// Rollback restores every record captured in the snapshot, verifies the
// restored state, and snapshots it again under a new id so the rollback's
// own effect can itself be rolled back. The consumed snapshot is retired.
func (s *Service) Rollback(ctx context.Context, snapshotID id.ID) (outcome *Outcome, err error) {
	start := time.Now()
	defer func() {
		meta := map[string]any{"snapshot_id": snapshotID.String()}
		if outcome != nil {
			meta["restored_records"] = outcome.RestoredRecords
			meta["new_snapshot_id"] = outcome.NewSnapshotID.String()
		}
		s.recorder.RecordOutcome(ctx, audit.OpRollback, start, err, meta)
	}()

	snap, err := s.snapshots.Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.ConsumedAt != nil {
		return nil, apperror.NewConflict("snapshot already consumed").
			WithDetail("snapshot_id", snapshotID.String()).
			WithDetail("consumed_at", snap.ConsumedAt.UTC().Format(time.RFC3339))
	}

	// A live cascade on the same target would race the restore; the
	// caller can retry once the operation reaches a terminal state.
	if s.active != nil {
		if opID, held := s.active.ActiveOperationID(snap.TargetRef.Key()); held {
			return nil, apperror.NewDeleteInProgress(snap.TargetRef.Key(), opID.String())
		}
	}

	outcome = &Outcome{
		SnapshotID: snap.ID,
		TargetRef:  snap.TargetRef,
	}

	// The restore, its verification and the snapshot bookkeeping commit
	// as one unit: a rollback is never left half-applied.
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		for collection, recs := range snap.Records {
			restored, skipped, restoreErr := s.restoreCollection(ctx, collection, recs)
			if restoreErr != nil {
				return fmt.Errorf("restore %s: %w", collection, restoreErr)
			}
			outcome.RestoredRecords += restored
			outcome.SkippedRecords += skipped
			outcome.Collections = append(outcome.Collections, collection)
		}

		if err := s.verify(ctx, snap); err != nil {
			return err
		}

		// Snapshot the restored state so this rollback is itself reversible.
		newSnap := &Snapshot{
			ID:          id.New(),
			OperationID: snap.OperationID,
			TargetRef:   snap.TargetRef,
			Records:     snap.Records,
			TakenAt:     time.Now().UTC(),
		}
		if err := s.snapshots.Save(ctx, newSnap); err != nil {
			return fmt.Errorf("snapshot restored state: %w", err)
		}
		outcome.NewSnapshotID = newSnap.ID

		if err := s.snapshots.MarkConsumed(ctx, snap.ID, time.Now().UTC()); err != nil {
			return fmt.Errorf("retire snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		outcome = nil
		return nil, err
	}

	s.log.WithContext(ctx).Infow("rollback completed",
		"snapshot_id", snap.ID,
		"target", snap.TargetRef.Key(),
		"restored", outcome.RestoredRecords,
		"skipped", outcome.SkippedRecords,
	)

	return outcome, nil
}

// restoreCollection re-inserts captured records one by one, skipping those
// that already exist (a partial cascade leaves survivors in place).
func (s *Service) restoreCollection(ctx context.Context, collection string, recs []schema.Record) (restored, skipped int, err error) {
	for _, rec := range recs {
		exists, err := s.store.Exists(ctx, collection, rec.ID)
		if err != nil {
			return restored, skipped, err
		}
		if exists {
			skipped++
			continue
		}
		if err := s.store.Insert(ctx, collection, []schema.Record{rec.Clone()}); err != nil {
			return restored, skipped, err
		}
		restored++
	}
	return restored, skipped, nil
}

// verify confirms every captured record exists after restore.
func (s *Service) verify(ctx context.Context, snap *Snapshot) error {
	for collection, recs := range snap.Records {
		for _, rec := range recs {
			exists, err := s.store.Exists(ctx, collection, rec.ID)
			if err != nil {
				return err
			}
			if !exists {
				return apperror.NewIntegrityViolation("post-restore verification failed").
					WithDetail("collection", collection).
					WithDetail("record_id", rec.ID.String())
			}
		}
	}
	return nil
}
