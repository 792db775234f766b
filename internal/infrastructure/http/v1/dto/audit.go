package dto

import (
	"time"

	"cantus/internal/domain/audit"
)

// AuditQueryRequest filters the audit log. Zero-valued fields match
// everything.
type AuditQueryRequest struct {
	PaginationRequest
	ActorID   string     `form:"actorId"`
	Operation string     `form:"operation"`
	Success   *bool      `form:"success"`
	From      *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To        *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// Filter converts the request into a domain filter.
func (r *AuditQueryRequest) Filter() audit.Filter {
	r.Defaults()
	f := audit.Filter{
		ActorID:   r.ActorID,
		Operation: r.Operation,
		Success:   r.Success,
		Page:      r.Page,
		Limit:     r.PageSize,
	}
	if r.From != nil {
		f.From = *r.From
	}
	if r.To != nil {
		f.To = *r.To
	}
	return f
}
