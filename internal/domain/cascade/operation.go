// Package cascade performs tracked, cancellable cascade deletions over the
// fixed schema, one active operation per target entity.
package cascade

import (
	"sync"
	"sync/atomic"
	"time"

	"cantus/internal/core/id"
	"cantus/internal/domain/schema"
)

// Status is the state of one cascade run.
type Status string

const (
	StatusPending         Status = "pending"
	StatusValidating      Status = "validating"
	StatusSnapshotting    Status = "snapshotting"
	StatusDeleting        Status = "deleting"
	StatusCleaningOrphans Status = "cleaning_orphans"
	StatusFinalizing      Status = "finalizing"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Options configure one execution.
type Options struct {
	// CreateSnapshot serializes all records about to be deleted so the
	// run can be rolled back. On by default.
	CreateSnapshot bool `json:"createSnapshot"`

	// SkipValidation skips the pre-flight existence check.
	SkipValidation bool `json:"skipValidation"`

	// BatchSize is records per delete batch; cancellation and timeout
	// latency are bounded by it.
	BatchSize int `json:"batchSize"`

	// Force proceeds even when the impact requires confirmation.
	Force bool `json:"forceDelete"`

	// Reason is recorded in the audit trail.
	Reason string `json:"reason"`
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{CreateSnapshot: true, BatchSize: 50}
}

func (o *Options) normalize() {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
}

// Operation is the live state of one cascade run. It is mutated by the
// executor and read concurrently by observers, so all access goes through
// the mutex; the cancellation flag is checked between batches without it.
type Operation struct {
	id     id.ID
	target schema.EntityRef

	mu                sync.Mutex
	status            Status
	progress          int
	currentStep       string
	startTime         time.Time
	endTime           *time.Time
	snapshotID        *id.ID
	errMsg            string
	impactSummary     map[string]int
	totalRecords      int
	rollbackAvailable bool

	cancelRequested atomic.Bool
}

// newOperation creates a pending operation for the target.
func newOperation(target schema.EntityRef) *Operation {
	return &Operation{
		id:        id.New(),
		target:    target,
		status:    StatusPending,
		startTime: time.Now().UTC(),
	}
}

// ID returns the operation id.
func (op *Operation) ID() id.ID {
	return op.id
}

// Target returns the deletion target.
func (op *Operation) Target() schema.EntityRef {
	return op.target
}

// RequestCancel sets the cooperative cancellation flag. Returns false when
// the operation is already terminal.
func (op *Operation) RequestCancel() bool {
	op.mu.Lock()
	terminal := op.status.Terminal()
	op.mu.Unlock()
	if terminal {
		return false
	}
	op.cancelRequested.Store(true)
	return true
}

// CancelRequested reports the cooperative flag.
func (op *Operation) CancelRequested() bool {
	return op.cancelRequested.Load()
}

// advance moves the run to a new phase. Progress never decreases.
func (op *Operation) advance(status Status, step string, progress int) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.status = status
	op.currentStep = step
	if progress > op.progress {
		op.progress = progress
	}
}

// setProgress bumps progress within the current phase.
func (op *Operation) setProgress(progress int) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if progress > op.progress {
		op.progress = progress
	}
}

// setImpact records the collected blast radius.
func (op *Operation) setImpact(summary map[string]int, total int) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.impactSummary = summary
	op.totalRecords = total
}

// setSnapshot records the snapshot backing this run.
func (op *Operation) setSnapshot(snapID id.ID) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.snapshotID = &snapID
}

// finish moves the run to a terminal state.
func (op *Operation) finish(status Status, errMsg string) {
	now := time.Now().UTC()
	op.mu.Lock()
	defer op.mu.Unlock()
	op.status = status
	op.errMsg = errMsg
	op.endTime = &now
	op.rollbackAvailable = op.snapshotID != nil
	if status == StatusCompleted {
		op.progress = 100
		op.currentStep = "completed"
	}
}

// Summary is a consistent read-only view of an operation.
type Summary struct {
	OperationID       id.ID            `json:"operationId"`
	TargetRef         schema.EntityRef `json:"targetRef"`
	Status            Status           `json:"status"`
	Progress          int              `json:"progress"`
	CurrentStep       string           `json:"currentStep"`
	StartTime         time.Time        `json:"startTime"`
	EndTime           *time.Time       `json:"endTime,omitempty"`
	SnapshotID        *id.ID           `json:"snapshotId,omitempty"`
	Error             string           `json:"error,omitempty"`
	ImpactSummary     map[string]int   `json:"impactSummary,omitempty"`
	TotalRecords      int              `json:"totalRecords"`
	RollbackAvailable bool             `json:"rollbackAvailable"`
}

// Summary snapshots the operation state.
func (op *Operation) Summary() Summary {
	op.mu.Lock()
	defer op.mu.Unlock()

	summary := Summary{
		OperationID:       op.id,
		TargetRef:         op.target,
		Status:            op.status,
		Progress:          op.progress,
		CurrentStep:       op.currentStep,
		StartTime:         op.startTime,
		EndTime:           op.endTime,
		SnapshotID:        op.snapshotID,
		Error:             op.errMsg,
		TotalRecords:      op.totalRecords,
		RollbackAvailable: op.rollbackAvailable,
	}
	if op.impactSummary != nil {
		summary.ImpactSummary = make(map[string]int, len(op.impactSummary))
		for k, v := range op.impactSummary {
			summary.ImpactSummary[k] = v
		}
	}
	return summary
}
