package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"cantus/internal/core/apperror"
	appctx "cantus/internal/core/context"
	"cantus/internal/domain/anomaly"
	"cantus/internal/domain/audit"
	"cantus/internal/domain/guard"
)

// auditOps maps guard resource/action pairs onto the operation names the
// engines record outcomes under, so one audit filter retrieves a denial
// and the outcome it would have produced together.
var auditOps = map[string]string{
	"deletion:preview":               audit.OpPreview,
	"deletion:execute":               audit.OpExecute,
	"deletion:cancel":                audit.OpCancel,
	"rollback:execute":               audit.OpRollback,
	"maintenance:orphan_scan":        audit.OpOrphanScan,
	"maintenance:orphan_cleanup":     audit.OpOrphanCleanup,
	"maintenance:integrity_validate": audit.OpIntegrityCheck,
	"maintenance:integrity_repair":   audit.OpIntegrityRepair,
}

func auditOperation(resource, action string) string {
	if op, ok := auditOps[resource+":"+action]; ok {
		return op
	}
	return resource + "." + action
}

// Admission gates mutating routes behind the guard and the anomaly
// detector. Refusals are audited: a denied destructive call is itself an
// event worth keeping.
type Admission struct {
	guard    *guard.Guard
	detector *anomaly.Detector
	recorder *audit.Recorder
}

// NewAdmission creates the admission gate.
func NewAdmission(g *guard.Guard, d *anomaly.Detector, r *audit.Recorder) *Admission {
	return &Admission{guard: g, detector: d, recorder: r}
}

// Require returns middleware admitting resource/action. The guard rules
// and rate budget run first, then the anomaly heuristics; the first
// refusal wins and aborts the request.
func (a *Admission) Require(resource, action string) gin.HandlerFunc {
	operation := auditOperation(resource, action)
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		err := a.guard.Admit(ctx, resource, action, guard.Meta{})
		if err == nil {
			err = a.detector.Evaluate(ctx, anomaly.Meta{Operation: operation})
		}
		if err == nil {
			c.Next()
			return
		}

		a.recorder.Record(ctx, audit.Entry{
			Operation: operation,
			Success:   false,
			Error:     errMsg(err),
			Metadata:  map[string]any{"denied": true, "path": c.FullPath()},
		})
		// Only admission refusals feed the repeated-failures heuristic;
		// a missing token says nothing about the actor's behavior.
		if actor := appctx.GetActor(ctx); actor != nil && apperror.IsRefusal(err) {
			a.detector.RecordFailure(actor.ActorID)
		}

		_ = c.Error(err)
		c.Abort()
	}
}

// ScreenDeletion implements cascade.Screener: it re-checks the rule table
// and the heuristics once the executor knows the dependent count. The
// executor audits a refusal as its own failed outcome, so no entry is
// written here.
func (a *Admission) ScreenDeletion(ctx context.Context, entityCount int) error {
	if err := a.guard.Inspect(ctx, "deletion", "execute", guard.Meta{EntityCount: entityCount}); err != nil {
		return err
	}
	return a.detector.Screen(ctx, anomaly.Meta{Operation: audit.OpExecute, EntityCount: entityCount})
}

// ScreenCleanup implements orphan.Screener for the cleanup pass.
func (a *Admission) ScreenCleanup(ctx context.Context, entityCount int) error {
	if err := a.guard.Inspect(ctx, "maintenance", "orphan_cleanup", guard.Meta{EntityCount: entityCount}); err != nil {
		return err
	}
	return a.detector.Screen(ctx, anomaly.Meta{Operation: audit.OpOrphanCleanup, EntityCount: entityCount})
}

func errMsg(err error) *string {
	s := err.Error()
	return &s
}
