package handlers

import (
	"github.com/gin-gonic/gin"

	"cantus/internal/domain/audit"
	"cantus/internal/infrastructure/http/v1/dto"
)

// AuditHandler serves the audit log query endpoint.
type AuditHandler struct {
	*BaseHandler
	recorder *audit.Recorder
}

// NewAuditHandler creates an audit handler.
func NewAuditHandler(base *BaseHandler, recorder *audit.Recorder) *AuditHandler {
	return &AuditHandler{BaseHandler: base, recorder: recorder}
}

// Query returns audit entries matching the filters, newest first.
// GET /api/v1/audit
func (h *AuditHandler) Query(c *gin.Context) {
	var req dto.AuditQueryRequest
	if !h.BindQuery(c, &req) {
		return
	}

	page, err := h.recorder.Query(c.Request.Context(), req.Filter())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, page)
}
