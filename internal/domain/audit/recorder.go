package audit

import (
	"context"
	"time"

	appctx "cantus/internal/core/context"
	"cantus/internal/core/id"
	"cantus/internal/core/security"
	"cantus/pkg/logger"
)

// Recorder writes audit entries without ever failing the caller's success
// path: a store failure is swallowed, logged, and pushed to the alert
// side-channel. The contract "audit failure never fails the business
// operation" lives here, not in scattered recover blocks.
type Recorder struct {
	store  Store
	alerts security.AlertSink
}

// NewRecorder creates a recorder. alerts may be nil.
func NewRecorder(store Store, alerts security.AlertSink) *Recorder {
	return &Recorder{store: store, alerts: alerts}
}

// Record fills actor and timestamp defaults from ctx and appends the entry.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if id.IsNil(entry.ID) {
		entry.ID = id.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if actor := appctx.GetActor(ctx); actor != nil {
		if entry.ActorID == "" {
			entry.ActorID = actor.ActorID
		}
		if entry.ActorRole == "" {
			entry.ActorRole = actor.PrimaryRole()
		}
	}

	if err := r.store.Append(ctx, entry); err != nil {
		logger.Error(ctx, "audit append failed",
			"operation", entry.Operation,
			"error", err,
		)
		if r.alerts != nil {
			r.alerts.Alert(ctx, security.Violation{
				Type:        security.ViolationDataIntegrity,
				Severity:    security.SeverityHigh,
				Description: "audit entry could not be persisted",
				ActorID:     entry.ActorID,
				Operation:   entry.Operation,
				Timestamp:   entry.Timestamp,
			})
		}
	}
}

// RecordOutcome is a convenience for operation results: it derives the
// success flag and error text from err and measures duration from start.
func (r *Recorder) RecordOutcome(ctx context.Context, operation string, start time.Time, err error, metadata map[string]any) {
	durationMs := time.Since(start).Milliseconds()
	entry := Entry{
		Operation:  operation,
		Success:    err == nil,
		DurationMs: &durationMs,
		Metadata:   metadata,
	}
	if err != nil {
		msg := err.Error()
		entry.Error = &msg
	}
	r.Record(ctx, entry)
}

// Query reads from the underlying store. Unlike Record, read failures are
// returned to the caller.
func (r *Recorder) Query(ctx context.Context, filter Filter) (Page, error) {
	filter.Normalize()
	return r.store.Query(ctx, filter)
}
