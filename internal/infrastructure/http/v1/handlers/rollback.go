package handlers

import (
	"github.com/gin-gonic/gin"

	"cantus/internal/domain/rollback"
)

// RollbackHandler restores deleted records from a snapshot.
type RollbackHandler struct {
	*BaseHandler
	service *rollback.Service
}

// NewRollbackHandler creates a rollback handler.
func NewRollbackHandler(base *BaseHandler, service *rollback.Service) *RollbackHandler {
	return &RollbackHandler{BaseHandler: base, service: service}
}

// Rollback restores every record the snapshot captured and re-snapshots
// the restored state under a new id. A snapshot already consumed by an
// earlier rollback is refused.
// POST /api/v1/rollbacks/:snapshotId
func (h *RollbackHandler) Rollback(c *gin.Context) {
	snapshotID, ok := h.ParseID(c, "snapshotId")
	if !ok {
		return
	}

	outcome, err := h.service.Rollback(c.Request.Context(), snapshotID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, outcome)
}
