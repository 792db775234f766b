// Package integrity runs a fixed battery of consistency checks over the
// dataset and applies the narrowest possible fix per finding.
package integrity

import (
	"cantus/internal/core/id"
)

// Check names, in battery order.
const (
	CheckRequiredFields = "required_fields"
	CheckEnumDomains    = "enum_domains"
	CheckPaymentAmounts = "payment_amounts"
	CheckReferences     = "reference_reconciliation"
)

// FixAction is the narrowest repair for one issue.
type FixAction string

const (
	// FixDelete removes the record; used when no field-level fix can
	// restore consistency.
	FixDelete FixAction = "delete"

	// FixClearField nulls out the offending field.
	FixClearField FixAction = "clear_field"

	// FixSetDefault writes a known-good default into the field.
	FixSetDefault FixAction = "set_default"
)

// Fix describes how to repair one issue.
type Fix struct {
	Action FixAction `json:"action"`
	Field  string    `json:"field,omitempty"`
	Value  any       `json:"value,omitempty"`
}

// Issue is one consistency violation on one record. IDs are deterministic
// so a validate → repair(issues) round trip is stable across calls.
type Issue struct {
	ID          id.ID  `json:"id"`
	Check       string `json:"check"`
	Collection  string `json:"collection"`
	RecordID    id.ID  `json:"recordId"`
	Field       string `json:"field,omitempty"`
	Description string `json:"description"`
	Fix         Fix    `json:"fix"`
}

func newIssue(check, collection string, recID id.ID, field, description string, fix Fix) Issue {
	return Issue{
		ID:          id.Deterministic("integrity:" + check + ":" + collection + ":" + recID.String() + ":" + field),
		Check:       check,
		Collection:  collection,
		RecordID:    recID,
		Field:       field,
		Description: description,
		Fix:         fix,
	}
}

// OverallStatus summarizes a validation run.
type OverallStatus string

const (
	StatusHealthy  OverallStatus = "healthy"
	StatusDegraded OverallStatus = "degraded"
	StatusCritical OverallStatus = "critical"
)

// CheckOutcome reports one check of the battery.
type CheckOutcome struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Issues int    `json:"issues"`
}

// Report is the result of a full validation run.
type Report struct {
	Passed        int            `json:"passed"`
	Failed        int            `json:"failed"`
	Checks        []CheckOutcome `json:"checks"`
	Issues        []Issue        `json:"issues,omitempty"`
	OverallStatus OverallStatus  `json:"overallStatus"`
}

// RepairOptions configure a repair pass.
type RepairOptions struct {
	// CreateBackup snapshots every affected record before any fix is
	// applied. On by default; disabling it is an explicit operator call.
	CreateBackup bool `json:"createBackup"`

	// DryRun reports what would be repaired without mutating.
	DryRun bool `json:"dryRun"`
}

// DefaultRepairOptions returns production defaults.
func DefaultRepairOptions() RepairOptions {
	return RepairOptions{CreateBackup: true}
}

// RepairResult reports a repair pass. Failures on one issue never block
// independent issues, so all three counters can be non-zero at once.
type RepairResult struct {
	Repaired         int      `json:"repaired"`
	Failed           int      `json:"failed"`
	Skipped          int      `json:"skipped"`
	Errors           []string `json:"errors,omitempty"`
	BackupSnapshotID *id.ID   `json:"backupSnapshotId,omitempty"`
	DryRun           bool     `json:"dryRun"`
}
