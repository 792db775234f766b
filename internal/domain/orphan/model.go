// Package orphan finds and removes references to records that no longer
// exist. Scanning is independent of any single deletion run; the cleanup
// side doubles as the cascade executor's defensive sweep.
package orphan

import (
	"fmt"

	"cantus/internal/core/id"
	"cantus/internal/domain/schema"
)

// Severity classifies an issue by blast radius.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Issue is one group of records pointing at the same absent owner through
// the same field. Its ID is derived from that triple, so rescanning
// unchanged data yields byte-identical issue sets.
type Issue struct {
	ID          id.ID            `json:"id"`
	Collection  string           `json:"collection"`
	Field       string           `json:"field"`
	OwnerRef    schema.EntityRef `json:"ownerRef"`
	Count       int              `json:"count"`
	Severity    Severity         `json:"severity"`
	CanAutoFix  bool             `json:"canAutoFix"`
	Description string           `json:"description"`
}

func newIssue(rel schema.Relation, owner schema.EntityRef, count int, high, medium int) Issue {
	severity := SeverityLow
	switch {
	case count >= high:
		severity = SeverityHigh
	case count >= medium:
		severity = SeverityMedium
	}
	return Issue{
		ID:         id.Deterministic("orphan:" + rel.Collection + ":" + rel.Field + ":" + owner.Key()),
		Collection: rel.Collection,
		Field:      rel.Field,
		OwnerRef:   owner,
		Count:      count,
		Severity:   severity,
		CanAutoFix: severity != SeverityHigh,
		Description: fmt.Sprintf("%d %s record(s) reference missing %s %s via %s",
			count, rel.Collection, owner.Type, owner.ID, rel.Field),
	}
}

// ScanOptions restrict a scan.
type ScanOptions struct {
	// Collections limits the scan; empty means every dependent collection.
	Collections []string `json:"collections,omitempty"`
}

// CleanupOptions configure a cleanup pass.
type CleanupOptions struct {
	// DryRun reports what would be removed without mutating anything.
	DryRun bool `json:"dryRun"`

	// BatchSize is records per delete batch; each batch commits on its own
	// so an interrupted pass resumes from where it stopped.
	BatchSize int `json:"batchSize"`

	// IncludeHighSeverity opts high-severity issues into the pass. They
	// are never swept unattended.
	IncludeHighSeverity bool `json:"includeHighSeverity"`
}

func (o *CleanupOptions) normalize() {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
}

// CleanupResult reports a cleanup pass.
type CleanupResult struct {
	Cleaned int      `json:"cleaned"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
	DryRun  bool     `json:"dryRun"`
}
