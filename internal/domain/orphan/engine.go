package orphan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cantus/internal/core/apperror"
	"cantus/internal/core/id"
	"cantus/internal/core/tx"
	"cantus/internal/domain/audit"
	"cantus/internal/domain/schema"
	"cantus/pkg/logger"
)

// Config tunes severity classification.
type Config struct {
	// HighThreshold is the orphan count at which an issue becomes high
	// severity and is excluded from automated sweeps.
	HighThreshold int

	// MediumThreshold is the count at which an issue becomes medium.
	MediumThreshold int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{HighThreshold: 25, MediumThreshold: 5}
}

// Screener re-admits a cleanup once the orphan count is known, so
// admission rules and heuristics keyed on entity count see real numbers.
// nil disables the gate.
type Screener interface {
	ScreenCleanup(ctx context.Context, entityCount int) error
}

// Engine scans collections for dangling owner references and removes them.
type Engine struct {
	store    schema.Store
	schema   *schema.Schema
	txm      tx.Manager
	screener Screener
	recorder *audit.Recorder
	log      *logger.Logger
	cfg      Config
}

// NewEngine creates an orphan engine.
func NewEngine(store schema.Store, sch *schema.Schema, txm tx.Manager, screener Screener, recorder *audit.Recorder, log *logger.Logger, cfg Config) *Engine {
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = 25
	}
	if cfg.MediumThreshold <= 0 {
		cfg.MediumThreshold = 5
	}
	return &Engine{
		store:    store,
		schema:   sch,
		txm:      txm,
		screener: screener,
		recorder: recorder,
		log:      log.WithComponent("orphan"),
		cfg:      cfg,
	}
}

// Scan walks dependent collections and groups records whose owner no longer
// exists. The result is sorted, and issue IDs are deterministic, so two
// scans over unchanged data return identical sets.
func (e *Engine) Scan(ctx context.Context, opts ScanOptions) ([]Issue, error) {
	start := time.Now()

	relations, err := e.scanRelations(opts.Collections)
	if err != nil {
		return nil, err
	}

	// Owner existence is checked once per distinct reference, not once
	// per record.
	ownerExists := make(map[string]bool)
	var issues []Issue

	for _, rel := range relations {
		recs, err := e.store.ListAll(ctx, rel.Collection)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", rel.Collection, err)
		}

		missing := make(map[id.ID]int)
		for _, rec := range recs {
			ownerID, ok := rec.Ref(rel.Field)
			if !ok {
				// Absent or malformed owner field is an integrity
				// problem, not an orphaned reference.
				continue
			}
			key := rel.Owner + ":" + ownerID.String()
			exists, seen := ownerExists[key]
			if !seen {
				exists, err = e.store.Exists(ctx, rel.Owner, ownerID)
				if err != nil {
					return nil, fmt.Errorf("check %s owner: %w", rel.Collection, err)
				}
				ownerExists[key] = exists
			}
			if !exists {
				missing[ownerID]++
			}
		}

		for ownerID, count := range missing {
			owner := schema.EntityRef{Type: rel.Owner, ID: ownerID}
			issues = append(issues, newIssue(rel, owner, count, e.cfg.HighThreshold, e.cfg.MediumThreshold))
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Collection != issues[j].Collection {
			return issues[i].Collection < issues[j].Collection
		}
		if issues[i].Field != issues[j].Field {
			return issues[i].Field < issues[j].Field
		}
		return issues[i].OwnerRef.ID.String() < issues[j].OwnerRef.ID.String()
	})

	e.recorder.RecordOutcome(ctx, audit.OpOrphanScan, start, nil, map[string]any{
		"collections": len(relations),
		"issues":      len(issues),
	})
	return issues, nil
}

// Cleanup removes the records behind the given issues. High-severity issues
// are skipped unless explicitly opted in, and every owner is re-verified
// absent right before deletion: a reference whose owner exists is never
// touched, no matter what the scan said.
func (e *Engine) Cleanup(ctx context.Context, issues []Issue, opts CleanupOptions) (*CleanupResult, error) {
	opts.normalize()
	start := time.Now()
	result := &CleanupResult{DryRun: opts.DryRun}

	if e.screener != nil && !opts.DryRun {
		total := 0
		for _, issue := range issues {
			total += issue.Count
		}
		if err := e.screener.ScreenCleanup(ctx, total); err != nil {
			e.recorder.RecordOutcome(ctx, audit.OpOrphanCleanup, start, err, map[string]any{
				"issues":       len(issues),
				"entity_count": total,
			})
			return nil, err
		}
	}

	for _, issue := range issues {
		if !e.schema.HasCollection(issue.Collection) {
			return nil, apperror.NewValidation("unknown collection: " + issue.Collection)
		}
		if issue.Severity == SeverityHigh && !opts.IncludeHighSeverity {
			result.Skipped += issue.Count
			continue
		}

		exists, err := e.store.Exists(ctx, issue.OwnerRef.Type, issue.OwnerRef.ID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: verify owner: %v", issue.ID, err))
			continue
		}
		if exists {
			// Owner came back since the scan; the references are valid.
			result.Skipped += issue.Count
			continue
		}

		recs, err := e.store.FindByField(ctx, issue.Collection, issue.Field, issue.OwnerRef.ID.String())
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: find records: %v", issue.ID, err))
			continue
		}
		if opts.DryRun {
			result.Cleaned += len(recs)
			continue
		}

		// One committed transaction per batch: an interrupted pass keeps
		// what it already removed and a rerun picks up the remainder.
		for batchStart := 0; batchStart < len(recs); batchStart += opts.BatchSize {
			end := batchStart + opts.BatchSize
			if end > len(recs) {
				end = len(recs)
			}
			ids := make([]id.ID, 0, end-batchStart)
			for _, rec := range recs[batchStart:end] {
				ids = append(ids, rec.ID)
			}
			var deleted int
			err := e.txm.RunInTransaction(ctx, func(ctx context.Context) error {
				var err error
				deleted, err = e.store.DeleteByIDs(ctx, issue.Collection, ids)
				return err
			})
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: delete batch: %v", issue.ID, err))
				break
			}
			result.Cleaned += deleted
		}
	}

	if !opts.DryRun {
		e.recorder.RecordOutcome(ctx, audit.OpOrphanCleanup, start, nil, map[string]any{
			"issues":  len(issues),
			"cleaned": result.Cleaned,
			"skipped": result.Skipped,
			"errors":  len(result.Errors),
		})
	}
	return result, nil
}

// SweepTarget deletes every record still referencing the given entity. The
// cascade executor calls it after the direct cascade as a defensive pass; it
// is not audited separately because it runs inside an audited operation.
func (e *Engine) SweepTarget(ctx context.Context, ref schema.EntityRef) (int, error) {
	swept := 0
	for _, rel := range e.schema.Relations() {
		if rel.Owner != ref.Type {
			continue
		}
		recs, err := e.store.FindByField(ctx, rel.Collection, rel.Field, ref.ID.String())
		if err != nil {
			return swept, fmt.Errorf("sweep %s: %w", rel.Collection, err)
		}
		if len(recs) == 0 {
			continue
		}
		ids := make([]id.ID, 0, len(recs))
		for _, rec := range recs {
			ids = append(ids, rec.ID)
		}
		var deleted int
		err = e.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			var err error
			deleted, err = e.store.DeleteByIDs(ctx, rel.Collection, ids)
			return err
		})
		if err != nil {
			return swept, fmt.Errorf("sweep %s: %w", rel.Collection, err)
		}
		swept += deleted
	}
	return swept, nil
}

func (e *Engine) scanRelations(collections []string) ([]schema.Relation, error) {
	if len(collections) == 0 {
		return e.schema.Relations(), nil
	}
	wanted := make(map[string]bool, len(collections))
	for _, c := range collections {
		if !e.schema.HasCollection(c) {
			return nil, apperror.NewValidation("unknown collection: " + c)
		}
		wanted[c] = true
	}
	var out []schema.Relation
	for _, rel := range e.schema.Relations() {
		if wanted[rel.Collection] {
			out = append(out, rel)
		}
	}
	return out, nil
}
