package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cantus/internal/core/apperror"
	"cantus/internal/core/id"
	"cantus/internal/core/tx"
	"cantus/internal/domain/audit"
	"cantus/internal/domain/impact"
	"cantus/internal/domain/rollback"
	"cantus/internal/domain/schema"
	"cantus/pkg/logger"
)

var tracer = otel.Tracer("cantus/cascade")

// errCancelled aborts the run after a cooperative cancellation.
var errCancelled = errors.New("operation cancelled")

// Sweeper is the defensive post-deletion pass: it removes references to
// the deleted target in collections the direct cascade did not cover.
// Satisfied by the orphan cleanup engine.
type Sweeper interface {
	SweepTarget(ctx context.Context, ref schema.EntityRef) (int, error)
}

// Screener re-admits the run once the real blast radius is known. The
// admission pass at the HTTP edge sees requests before any impact math;
// this second gate sees the dependent count. A refusal fails the run
// before anything is deleted. nil disables the gate.
type Screener interface {
	ScreenDeletion(ctx context.Context, entityCount int) error
}

// Config bounds one execution.
type Config struct {
	// Timeout is the hard wall-clock limit; exceeding it forces a failed
	// transition and releases the registry slot.
	Timeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Minute}
}

// Result is the outcome of an Execute call.
type Result struct {
	Operation Summary `json:"operation"`

	// AlreadyRunning is set when the target's slot was held: the summary
	// then describes the existing run, and nothing new was started.
	AlreadyRunning bool `json:"alreadyRunning"`
}

// Executor runs the cascade state machine:
// pending → validating → snapshotting → deleting → cleaning_orphans →
// finalizing → completed, with failed and cancelled reachable from any
// non-terminal state.
type Executor struct {
	store     schema.Store
	schema    *schema.Schema
	analyzer  *impact.Analyzer
	snapshots rollback.Store
	registry  *Registry
	recorder  *audit.Recorder
	txm       tx.Manager
	sweeper   Sweeper
	screener  Screener
	log       *logger.Logger
	cfg       Config
	nowFn     func() time.Time
}

// NewExecutor creates an executor. sweeper and screener may be nil, in
// which case the defensive pass and the mid-run admission gate are
// skipped.
func NewExecutor(
	store schema.Store,
	sch *schema.Schema,
	analyzer *impact.Analyzer,
	snapshots rollback.Store,
	registry *Registry,
	recorder *audit.Recorder,
	txm tx.Manager,
	sweeper Sweeper,
	screener Screener,
	log *logger.Logger,
	cfg Config,
) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Executor{
		store:     store,
		schema:    sch,
		analyzer:  analyzer,
		snapshots: snapshots,
		registry:  registry,
		recorder:  recorder,
		txm:       txm,
		sweeper:   sweeper,
		screener:  screener,
		log:       log.WithComponent("cascade"),
		cfg:       cfg,
		nowFn:     time.Now,
	}
}

// Execute runs one cascade deletion to a terminal state. Retrying an
// in-progress target returns the existing operation instead of starting a
// duplicate. Every attempt produces exactly one audit entry.
func (e *Executor) Execute(ctx context.Context, ref schema.EntityRef, opts Options) (*Result, error) {
	opts.normalize()

	op := newOperation(ref)
	existing, acquired := e.registry.Acquire(op)
	if !acquired {
		summary := existing.Summary()
		// The retry is itself an auditable attempt, even though nothing
		// new was started.
		e.recorder.Record(ctx, audit.Entry{
			Operation: audit.OpExecute,
			Success:   true,
			Metadata: map[string]any{
				"already_running": true,
				"operation_id":    summary.OperationID.String(),
				"target":          ref.Key(),
			},
		})
		return &Result{Operation: summary, AlreadyRunning: true}, nil
	}

	ctx, span := tracer.Start(ctx, "cascade.execute",
		trace.WithAttributes(attribute.String("target", ref.Key())))
	defer span.End()

	start := e.nowFn()
	runErr := e.run(ctx, op, opts, start)

	switch {
	case runErr == nil:
		op.finish(StatusCompleted, "")
	case errors.Is(runErr, errCancelled):
		op.finish(StatusCancelled, "cancelled by operator")
	default:
		op.finish(StatusFailed, runErr.Error())
	}

	final := op.Summary()
	e.registry.Release(ref.Key())

	meta := map[string]any{
		"operation_id":  final.OperationID.String(),
		"target":        ref.Key(),
		"status":        string(final.Status),
		"total_records": final.TotalRecords,
	}
	if opts.Reason != "" {
		meta["reason"] = opts.Reason
	}
	if final.SnapshotID != nil {
		meta["snapshot_id"] = final.SnapshotID.String()
	}
	e.recorder.RecordOutcome(ctx, audit.OpExecute, start, runErr, meta)

	e.log.WithContext(ctx).Infow("cascade finished",
		"operation_id", final.OperationID,
		"target", ref.Key(),
		"status", final.Status,
		"records", final.TotalRecords,
	)

	if runErr != nil && !errors.Is(runErr, errCancelled) {
		return &Result{Operation: final}, runErr
	}
	return &Result{Operation: final}, nil
}

// run advances the state machine. It never touches terminal states; the
// caller maps the returned error onto completed/failed/cancelled.
func (e *Executor) run(ctx context.Context, op *Operation, opts Options, start time.Time) error {
	target := op.Target()

	// validating: cheap re-check, the preview may be stale by now.
	op.advance(StatusValidating, "validating target", 5)
	if !opts.SkipValidation {
		exists, err := e.store.Exists(ctx, target.Type, target.ID)
		if err != nil {
			return fmt.Errorf("validate target: %w", err)
		}
		if !exists {
			return apperror.NewNotFound(target.Type, target.ID.String())
		}
	}
	if err := e.checkpoint(op, start); err != nil {
		return err
	}

	byCollection, err := e.analyzer.Collect(ctx, target)
	if err != nil {
		return fmt.Errorf("collect dependents: %w", err)
	}

	summary := make(map[string]int, len(byCollection))
	total := 0
	hasHard := false
	for _, rel := range e.schema.Relations() {
		recs := byCollection[rel.Collection]
		if len(recs) == 0 {
			continue
		}
		summary[rel.Collection] = len(recs)
		total += len(recs)
		for _, rec := range recs {
			if rel.IsHard(rec) {
				hasHard = true
				break
			}
		}
	}
	op.setImpact(summary, total)

	if e.screener != nil {
		if err := e.screener.ScreenDeletion(ctx, total); err != nil {
			return err
		}
	}

	if hasHard && !opts.Force {
		return apperror.NewValidation("target has active dependents; deletion requires confirmation").
			WithDetail("requires_confirmation", true)
	}

	// snapshotting: fail-closed, nothing is deleted unless the snapshot
	// is fully persisted.
	if opts.CreateSnapshot {
		op.advance(StatusSnapshotting, "creating snapshot", 15)
		snap, err := e.takeSnapshot(ctx, op, byCollection)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		op.setSnapshot(snap.ID)
	}
	if err := e.checkpoint(op, start); err != nil {
		return err
	}

	// deleting: deepest dependents first, target entity last.
	op.advance(StatusDeleting, "deleting dependent records", 20)
	processed := 0
	for _, rel := range e.schema.DeletionOrder() {
		recs := byCollection[rel.Collection]
		for batchStart := 0; batchStart < len(recs); batchStart += opts.BatchSize {
			if err := e.checkpoint(op, start); err != nil {
				return err
			}

			end := batchStart + opts.BatchSize
			if end > len(recs) {
				end = len(recs)
			}
			ids := make([]id.ID, 0, end-batchStart)
			for _, rec := range recs[batchStart:end] {
				ids = append(ids, rec.ID)
			}

			// Each batch is its own committed transaction: an
			// interrupted run keeps every batch that finished. The store
			// skips records another actor deleted since the collect
			// pass, so counts stay honest.
			err := e.txm.RunInTransaction(ctx, func(ctx context.Context) error {
				_, err := e.store.DeleteByIDs(ctx, rel.Collection, ids)
				return err
			})
			if err != nil {
				return fmt.Errorf("delete %s batch: %w", rel.Collection, err)
			}

			processed += len(ids)
			op.advance(StatusDeleting,
				fmt.Sprintf("deleting %s (%d/%d)", rel.Collection, processed, total),
				20+int(float64(processed)/float64(total+1)*65))
		}
	}

	if err := e.checkpoint(op, start); err != nil {
		return err
	}
	err = e.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		_, err := e.store.DeleteByIDs(ctx, target.Type, []id.ID{target.ID})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}

	// cleaning_orphans: defensive sweep for references the direct
	// cascade did not cover.
	op.advance(StatusCleaningOrphans, "sweeping stray references", 90)
	if e.sweeper != nil {
		swept, err := e.sweeper.SweepTarget(ctx, target)
		if err != nil {
			return fmt.Errorf("orphan sweep: %w", err)
		}
		if swept > 0 {
			e.log.WithContext(ctx).Warnw("defensive sweep removed stray references",
				"target", target.Key(), "count", swept)
		}
	}

	op.advance(StatusFinalizing, "finalizing", 97)
	return nil
}

// takeSnapshot captures the target record plus every collected dependent.
func (e *Executor) takeSnapshot(ctx context.Context, op *Operation, byCollection map[string][]schema.Record) (*rollback.Snapshot, error) {
	target := op.Target()

	targetRec, err := e.store.Get(ctx, target.Type, target.ID)
	if err != nil {
		return nil, err
	}

	records := make(map[string][]schema.Record, len(byCollection)+1)
	records[target.Type] = []schema.Record{targetRec.Clone()}
	for collection, recs := range byCollection {
		cloned := make([]schema.Record, 0, len(recs))
		for _, rec := range recs {
			cloned = append(cloned, rec.Clone())
		}
		records[collection] = cloned
	}

	snap := &rollback.Snapshot{
		ID:          id.New(),
		OperationID: op.ID(),
		TargetRef:   target,
		Records:     records,
		TakenAt:     time.Now().UTC(),
	}
	if err := e.snapshots.Save(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// checkpoint enforces cooperative cancellation and the wall-clock timeout
// between awaited steps, bounding their latency by batch size rather than
// total record count.
func (e *Executor) checkpoint(op *Operation, start time.Time) error {
	if op.CancelRequested() {
		return errCancelled
	}
	if e.nowFn().Sub(start) > e.cfg.Timeout {
		return apperror.NewTimeout("deletion.execute", e.cfg.Timeout.Seconds())
	}
	return nil
}

// SetNow overrides the clock. Tests only.
func (e *Executor) SetNow(now func() time.Time) {
	e.nowFn = now
}

// Cancel requests cancellation of the active operation for a target.
func (e *Executor) Cancel(targetKey string) bool {
	op, ok := e.registry.Get(targetKey)
	if !ok {
		return false
	}
	return op.RequestCancel()
}

// Active returns summaries of all in-flight operations.
func (e *Executor) Active() []Summary {
	return e.registry.List()
}
