package dto

import (
	"cantus/internal/domain/integrity"
	"cantus/internal/domain/orphan"
)

// OrphanScanRequest restricts a scan to specific collections; empty means
// every dependent collection in the schema.
type OrphanScanRequest struct {
	Collections []string `json:"collections"`
}

// OrphanScanResponse lists the orphan groups a scan found.
type OrphanScanResponse struct {
	Issues []orphan.Issue `json:"issues"`
	Count  int            `json:"count"`
}

// OrphanCleanupRequest configures a cleanup pass. The scan runs inside the
// same request so cleanup always works from fresh findings.
type OrphanCleanupRequest struct {
	Collections         []string `json:"collections"`
	DryRun              bool     `json:"dryRun"`
	BatchSize           int      `json:"batchSize" binding:"omitempty,min=1,max=1000"`
	IncludeHighSeverity bool     `json:"includeHighSeverity"`
}

// CleanupOptions converts the request into engine options.
func (r *OrphanCleanupRequest) CleanupOptions() orphan.CleanupOptions {
	return orphan.CleanupOptions{
		DryRun:              r.DryRun,
		BatchSize:           r.BatchSize,
		IncludeHighSeverity: r.IncludeHighSeverity,
	}
}

// IntegrityRepairRequest configures a repair pass over a fresh validation
// report.
type IntegrityRepairRequest struct {
	DryRun       bool  `json:"dryRun"`
	CreateBackup *bool `json:"createBackup"`
}

// RepairOptions converts the request into repairer options.
func (r *IntegrityRepairRequest) RepairOptions() integrity.RepairOptions {
	opts := integrity.DefaultRepairOptions()
	opts.DryRun = r.DryRun
	if r.CreateBackup != nil {
		opts.CreateBackup = *r.CreateBackup
	}
	return opts
}

// IntegrityRepairResponse pairs the repair outcome with the report it
// worked from.
type IntegrityRepairResponse struct {
	Report *integrity.Report       `json:"report"`
	Result *integrity.RepairResult `json:"result"`
}
