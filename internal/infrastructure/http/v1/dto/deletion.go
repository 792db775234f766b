package dto

import "cantus/internal/domain/cascade"

// ExecuteDeletionRequest carries the options for one cascade run. Absent
// fields fall back to production defaults (snapshot on, batch size 50).
type ExecuteDeletionRequest struct {
	CreateSnapshot *bool  `json:"createSnapshot"`
	SkipValidation bool   `json:"skipValidation"`
	BatchSize      int    `json:"batchSize" binding:"omitempty,min=1,max=1000"`
	Force          bool   `json:"forceDelete"`
	Reason         string `json:"reason" binding:"omitempty,max=500"`
}

// Options converts the request into executor options.
func (r *ExecuteDeletionRequest) Options() cascade.Options {
	opts := cascade.DefaultOptions()
	if r.CreateSnapshot != nil {
		opts.CreateSnapshot = *r.CreateSnapshot
	}
	if r.BatchSize > 0 {
		opts.BatchSize = r.BatchSize
	}
	opts.SkipValidation = r.SkipValidation
	opts.Force = r.Force
	opts.Reason = r.Reason
	return opts
}

// ExecuteDeletionResponse wraps the operation state after a run. For an
// already-running target it carries the existing operation unchanged.
type ExecuteDeletionResponse struct {
	Operation      cascade.Summary `json:"operation"`
	AlreadyRunning bool            `json:"alreadyRunning,omitempty"`
}

// CancelResponse reports whether a cancellation request was delivered.
type CancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
}

// OperationsResponse lists in-flight deletions.
type OperationsResponse struct {
	Operations []cascade.Summary `json:"operations"`
	Count      int               `json:"count"`
}
