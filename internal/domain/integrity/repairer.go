package integrity

import (
	"context"
	"fmt"
	"time"

	"cantus/internal/core/apperror"
	"cantus/internal/core/id"
	"cantus/internal/domain/audit"
	"cantus/internal/domain/rollback"
	"cantus/internal/domain/schema"
	"cantus/pkg/logger"
)

// Repairer applies fixes produced by the validator.
type Repairer struct {
	store     schema.Store
	schema    *schema.Schema
	snapshots rollback.Store
	recorder  *audit.Recorder
	log       *logger.Logger
}

// NewRepairer creates a repairer.
func NewRepairer(store schema.Store, sch *schema.Schema, snapshots rollback.Store, recorder *audit.Recorder, log *logger.Logger) *Repairer {
	return &Repairer{
		store:     store,
		schema:    sch,
		snapshots: snapshots,
		recorder:  recorder,
		log:       log.WithComponent("integrity"),
	}
}

// Repair applies each issue's fix independently: a failing fix is counted
// and reported but never blocks the rest of the batch. Unless disabled,
// every affected record is snapshotted before the first mutation, and the
// snapshot can be restored through the regular rollback path.
func (r *Repairer) Repair(ctx context.Context, issues []Issue, opts RepairOptions) (*RepairResult, error) {
	start := time.Now()
	result := &RepairResult{DryRun: opts.DryRun}

	for _, issue := range issues {
		if !r.schema.HasCollection(issue.Collection) {
			return nil, apperror.NewValidation("unknown collection: " + issue.Collection)
		}
	}

	if opts.CreateBackup && !opts.DryRun && len(issues) > 0 {
		snap, err := r.backup(ctx, issues)
		if err != nil {
			// No backup means no repairs: the snapshot is the only
			// recovery path once records start changing.
			return nil, fmt.Errorf("backup before repair: %w", err)
		}
		if snap != nil {
			result.BackupSnapshotID = &snap.ID
		}
	}

	for _, issue := range issues {
		if opts.DryRun {
			result.Repaired++
			continue
		}
		if err := r.apply(ctx, issue); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", issue.ID, err))
			continue
		}
		result.Repaired++
	}

	if !opts.DryRun {
		meta := map[string]any{
			"issues":   len(issues),
			"repaired": result.Repaired,
			"failed":   result.Failed,
			"skipped":  result.Skipped,
		}
		if result.BackupSnapshotID != nil {
			meta["snapshot_id"] = result.BackupSnapshotID.String()
		}
		r.recorder.RecordOutcome(ctx, audit.OpIntegrityRepair, start, nil, meta)
	}
	return result, nil
}

// backup captures every record the batch is about to touch. Records already
// gone are simply absent from the snapshot.
func (r *Repairer) backup(ctx context.Context, issues []Issue) (*rollback.Snapshot, error) {
	records := make(map[string][]schema.Record)
	captured := make(map[string]bool, len(issues))

	for _, issue := range issues {
		key := issue.Collection + ":" + issue.RecordID.String()
		if captured[key] {
			continue
		}
		captured[key] = true

		rec, err := r.store.Get(ctx, issue.Collection, issue.RecordID)
		if err != nil {
			if apperror.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		records[issue.Collection] = append(records[issue.Collection], rec.Clone())
	}
	if len(records) == 0 {
		return nil, nil
	}

	operationID := id.New()
	snap := &rollback.Snapshot{
		ID:          id.New(),
		OperationID: operationID,
		TargetRef:   schema.EntityRef{Type: "maintenance", ID: operationID},
		Records:     records,
		TakenAt:     time.Now().UTC(),
	}
	if err := r.snapshots.Save(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *Repairer) apply(ctx context.Context, issue Issue) error {
	switch issue.Fix.Action {
	case FixDelete:
		_, err := r.store.DeleteByIDs(ctx, issue.Collection, []id.ID{issue.RecordID})
		return err
	case FixClearField:
		return r.store.SetField(ctx, issue.Collection, issue.RecordID, issue.Fix.Field, nil)
	case FixSetDefault:
		return r.store.SetField(ctx, issue.Collection, issue.RecordID, issue.Fix.Field, issue.Fix.Value)
	default:
		return apperror.NewValidation(fmt.Sprintf("unknown fix action %q", issue.Fix.Action))
	}
}
