// Package impact computes the blast radius of deleting an entity: every
// dependent record across the fixed schema, with warnings and a verdict.
// Analysis is read-only and safe to run repeatedly and concurrently.
package impact

import (
	"context"
	"fmt"
	"sort"

	"cantus/internal/domain/schema"
)

// ActiveChecker reports whether a deletion is already running for a target.
// Satisfied by the cascade operation registry.
type ActiveChecker interface {
	IsActive(targetKey string) bool
}

// Config tunes analysis thresholds.
type Config struct {
	// ConfirmationThreshold is the record count above which the caller
	// must confirm before executing.
	ConfirmationThreshold int

	// CriticalThreshold marks very large cascades.
	CriticalThreshold int

	// SampleLimit caps the records returned per collection in Details.
	// Counts are always exact.
	SampleLimit int
}

// DefaultConfig returns production thresholds.
func DefaultConfig() Config {
	return Config{
		ConfirmationThreshold: 20,
		CriticalThreshold:     100,
		SampleLimit:           5,
	}
}

// Analyzer traverses the schema outward from a target entity.
type Analyzer struct {
	store  schema.Store
	schema *schema.Schema
	active ActiveChecker
	cfg    Config
}

// New creates an analyzer.
func New(store schema.Store, sch *schema.Schema, active ActiveChecker, cfg Config) *Analyzer {
	return &Analyzer{store: store, schema: sch, active: active, cfg: cfg}
}

// Preview computes the full deletion impact for the target. It returns an
// apperror NOT_FOUND when the target record does not exist.
func (a *Analyzer) Preview(ctx context.Context, ref schema.EntityRef) (*Impact, error) {
	if ref.Type != a.schema.Root() {
		return nil, fmt.Errorf("unsupported entity type %q", ref.Type)
	}

	if _, err := a.store.Get(ctx, ref.Type, ref.ID); err != nil {
		return nil, err
	}

	imp := &Impact{
		TargetRef:  ref,
		Details:    make(map[string][]schema.Record),
		CanProceed: true,
	}

	byCollection, err := a.Collect(ctx, ref)
	if err != nil {
		return nil, err
	}

	hasHard := false
	relations := a.schema.Relations()
	sort.SliceStable(relations, func(i, j int) bool { return relations[i].Depth < relations[j].Depth })

	for _, rel := range relations {
		recs := byCollection[rel.Collection]
		if len(recs) == 0 {
			continue
		}

		hard := false
		for _, rec := range recs {
			if rel.IsHard(rec) {
				hard = true
				break
			}
		}
		hasHard = hasHard || hard

		imp.TotalRecords += len(recs)
		imp.AffectedCollections = append(imp.AffectedCollections, rel.Collection)
		imp.Dependencies = append(imp.Dependencies, Dependency{
			Collection: rel.Collection,
			Field:      rel.Field,
			Count:      len(recs),
			Hard:       hard,
		})

		sample := recs
		if len(sample) > a.cfg.SampleLimit {
			sample = sample[:a.cfg.SampleLimit]
		}
		imp.Details[rel.Collection] = sample

		if hard {
			imp.Warnings = append(imp.Warnings,
				fmt.Sprintf("%s contains active records that will be removed", rel.Collection))
		}
	}

	if imp.TotalRecords > a.cfg.ConfirmationThreshold {
		imp.Warnings = append(imp.Warnings,
			fmt.Sprintf("deletion affects %d records", imp.TotalRecords))
	}

	imp.RequiresConfirmation = hasHard || imp.TotalRecords > a.cfg.ConfirmationThreshold
	imp.RiskLevel = a.risk(imp.TotalRecords, hasHard)

	if a.active != nil && a.active.IsActive(ref.Key()) {
		imp.CanProceed = false
		imp.Warnings = append(imp.Warnings, "a deletion is already in progress for this entity")
	}

	return imp, nil
}

// Collect walks the schema one relation hop at a time (owner collections
// before their dependents) and returns every dependent record grouped by
// collection. The executor reuses this for snapshotting.
func (a *Analyzer) Collect(ctx context.Context, ref schema.EntityRef) (map[string][]schema.Record, error) {
	ownerIDs := map[string][]string{ref.Type: {ref.ID.String()}}
	out := make(map[string][]schema.Record)

	relations := a.schema.Relations()
	sort.SliceStable(relations, func(i, j int) bool { return relations[i].Depth < relations[j].Depth })

	for _, rel := range relations {
		ids, ok := ownerIDs[rel.Owner]
		if !ok {
			continue
		}
		for _, ownerID := range ids {
			recs, err := a.store.FindByField(ctx, rel.Collection, rel.Field, ownerID)
			if err != nil {
				return nil, fmt.Errorf("scan %s by %s: %w", rel.Collection, rel.Field, err)
			}
			for _, rec := range recs {
				out[rel.Collection] = append(out[rel.Collection], rec)
				ownerIDs[rel.Collection] = append(ownerIDs[rel.Collection], rec.ID.String())
			}
		}
	}

	return out, nil
}

func (a *Analyzer) risk(total int, hasHard bool) RiskLevel {
	switch {
	case total >= a.cfg.CriticalThreshold:
		return RiskCritical
	case hasHard:
		return RiskHigh
	case total > a.cfg.ConfirmationThreshold:
		return RiskMedium
	case total == 0:
		return RiskLow
	default:
		return RiskLow
	}
}
