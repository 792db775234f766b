package handlers

import (
	"github.com/gin-gonic/gin"

	"cantus/internal/domain/integrity"
	"cantus/internal/domain/orphan"
	"cantus/internal/infrastructure/http/v1/dto"
)

// MaintenanceHandler serves the orphan and integrity maintenance
// endpoints. Cleanup and repair both re-run their detection pass inside
// the request: findings go stale the moment another write lands, so
// acting on a caller-supplied issue list would be a foot-gun.
type MaintenanceHandler struct {
	*BaseHandler
	orphans   *orphan.Engine
	validator *integrity.Validator
	repairer  *integrity.Repairer
}

// NewMaintenanceHandler creates a maintenance handler.
func NewMaintenanceHandler(base *BaseHandler, orphans *orphan.Engine, validator *integrity.Validator, repairer *integrity.Repairer) *MaintenanceHandler {
	return &MaintenanceHandler{
		BaseHandler: base,
		orphans:     orphans,
		validator:   validator,
		repairer:    repairer,
	}
}

// ScanOrphans finds dependent records whose owner no longer exists.
// POST /api/v1/maintenance/orphans/scan
func (h *MaintenanceHandler) ScanOrphans(c *gin.Context) {
	var req dto.OrphanScanRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}

	issues, err := h.orphans.Scan(c.Request.Context(), orphan.ScanOptions{Collections: req.Collections})
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.OrphanScanResponse{Issues: issues, Count: len(issues)})
}

// CleanupOrphans scans and deletes orphaned records in one pass.
// POST /api/v1/maintenance/orphans/cleanup
func (h *MaintenanceHandler) CleanupOrphans(c *gin.Context) {
	var req dto.OrphanCleanupRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	issues, err := h.orphans.Scan(ctx, orphan.ScanOptions{Collections: req.Collections})
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.orphans.Cleanup(ctx, issues, req.CleanupOptions())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, result)
}

// ValidateIntegrity runs the full check battery and reports findings
// without changing anything.
// POST /api/v1/maintenance/integrity/validate
func (h *MaintenanceHandler) ValidateIntegrity(c *gin.Context) {
	report, err := h.validator.Validate(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, report)
}

// RepairIntegrity validates and applies the narrowest fix per issue,
// backing the touched records up first.
// POST /api/v1/maintenance/integrity/repair
func (h *MaintenanceHandler) RepairIntegrity(c *gin.Context) {
	var req dto.IntegrityRepairRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	report, err := h.validator.Validate(ctx)
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.repairer.Repair(ctx, report.Issues, req.RepairOptions())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.IntegrityRepairResponse{Report: report, Result: result})
}
