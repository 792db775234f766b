// Package audit provides the append-only operation log and its recorder.
package audit

import (
	"context"
	"time"

	"cantus/internal/core/id"
)

// Operation names recorded in the log.
const (
	OpPreview         = "deletion.preview"
	OpExecute         = "deletion.execute"
	OpCancel          = "deletion.cancel"
	OpRollback        = "deletion.rollback"
	OpOrphanScan      = "orphan.scan"
	OpOrphanCleanup   = "orphan.cleanup"
	OpIntegrityCheck  = "integrity.validate"
	OpIntegrityRepair = "integrity.repair"
)

// Entry is one immutable audit record.
type Entry struct {
	ID         id.ID          `db:"id" json:"id"`
	Timestamp  time.Time      `db:"created_at" json:"timestamp"`
	Operation  string         `db:"operation" json:"operation"`
	ActorID    string         `db:"actor_id" json:"actorId"`
	ActorRole  string         `db:"actor_role" json:"actorRole"`
	Success    bool           `db:"success" json:"success"`
	DurationMs *int64         `db:"duration_ms" json:"durationMs,omitempty"`
	Error      *string        `db:"error" json:"error,omitempty"`
	Metadata   map[string]any `db:"metadata" json:"metadata,omitempty"`
}

// Filter selects entries for a query. Zero-valued fields match everything.
type Filter struct {
	ActorID   string
	Operation string
	Success   *bool
	From      time.Time
	To        time.Time
	Page      int
	Limit     int
}

// Normalize applies pagination defaults.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
}

// Offset calculates the query offset.
func (f *Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Page is one page of query results.
type Page struct {
	Entries    []Entry `json:"entries"`
	TotalItems int64   `json:"totalItems"`
	PageNum    int     `json:"page"`
	Limit      int     `json:"limit"`
}

// Store is the persistence port for audit entries. Append must be durable;
// Query is paginated, newest first.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filter Filter) (Page, error)
}
