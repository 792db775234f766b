package handlers

import (
	"github.com/gin-gonic/gin"

	"cantus/internal/core/apperror"
	"cantus/internal/domain/cascade"
	"cantus/internal/domain/impact"
	"cantus/internal/domain/schema"
	"cantus/internal/infrastructure/http/v1/dto"
)

// DeletionHandler serves cascade deletion endpoints: impact preview,
// execution, cancellation and live operation listing.
type DeletionHandler struct {
	*BaseHandler
	analyzer *impact.Analyzer
	executor *cascade.Executor
}

// NewDeletionHandler creates a deletion handler.
func NewDeletionHandler(base *BaseHandler, analyzer *impact.Analyzer, executor *cascade.Executor) *DeletionHandler {
	return &DeletionHandler{
		BaseHandler: base,
		analyzer:    analyzer,
		executor:    executor,
	}
}

// PreviewImpact computes the blast radius of deleting a student without
// touching any data.
// GET /api/v1/students/:id/deletion/impact
func (h *DeletionHandler) PreviewImpact(c *gin.Context) {
	studentID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	result, err := h.analyzer.Preview(c.Request.Context(), schema.StudentRef(studentID))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, result)
}

// Execute runs the cascade deletion for a student. A second call for a
// target already being deleted returns the running operation unchanged.
// POST /api/v1/students/:id/deletion
func (h *DeletionHandler) Execute(c *gin.Context) {
	studentID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	// Body is optional: an empty request runs with production defaults.
	var req dto.ExecuteDeletionRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}

	result, err := h.executor.Execute(c.Request.Context(), schema.StudentRef(studentID), req.Options())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ExecuteDeletionResponse{
		Operation:      result.Operation,
		AlreadyRunning: result.AlreadyRunning,
	})
}

// Cancel requests cancellation of an in-flight deletion. The executor
// observes the flag at its next batch boundary, so the response only
// confirms delivery, not completion.
// DELETE /api/v1/students/:id/deletion
func (h *DeletionHandler) Cancel(c *gin.Context) {
	studentID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	ref := schema.StudentRef(studentID)
	if !h.executor.Cancel(ref.Key()) {
		h.Error(c, apperror.NewNotFound("deletion operation", ref.String()))
		return
	}

	h.OK(c, dto.CancelResponse{
		Cancelled: true,
		Message:   "cancellation requested; the operation stops at the next batch boundary",
	})
}

// ListOperations returns every in-flight deletion operation.
// GET /api/v1/operations
func (h *DeletionHandler) ListOperations(c *gin.Context) {
	ops := h.executor.Active()
	h.OK(c, dto.OperationsResponse{Operations: ops, Count: len(ops)})
}
