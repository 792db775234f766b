// Package guard implements per-operation admission control: declarative
// role rules with optional CEL conditions, and a sliding request budget per
// (operation, actor, origin). Denials are typed refusals, never faults.
package guard

import (
	"context"
	"time"

	"cantus/internal/core/apperror"
	appctx "cantus/internal/core/context"
	"cantus/internal/core/security"
)

// Meta carries per-request admission inputs beyond the actor context.
type Meta struct {
	// EntityCount is the number of records the request touches, when known
	// up front (batch cleanups, cascade previews).
	EntityCount int
}

// Guard is the admission gate every mutating engine call passes first.
type Guard struct {
	rules      []compiledRule
	limiter    *RateLimiter
	violations *security.ViolationLog
	nowFn      func() time.Time
}

// New creates a guard from a rule table. Rules with invalid CEL conditions
// fail construction.
func New(rules []Rule, limiter *RateLimiter, violations *security.ViolationLog) (*Guard, error) {
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	return &Guard{
		rules:      compiled,
		limiter:    limiter,
		violations: violations,
		nowFn:      time.Now,
	}, nil
}

// Admit decides whether the actor in ctx may perform resource/action.
// It returns nil to allow, or a typed apperror refusal:
// UNAUTHORIZED, PERMISSION_DENIED or RATE_LIMITED.
func (g *Guard) Admit(ctx context.Context, resource, action string, meta Meta) error {
	actor := appctx.GetActor(ctx)
	if actor == nil {
		return apperror.NewUnauthorized("authentication required")
	}

	if err := g.checkRules(ctx, actor, resource, action, meta); err != nil {
		return err
	}

	operation := resource + ":" + action
	if !g.limiter.Allow(operation, actor.ActorID, actor.Origin) {
		g.violations.Record(ctx, security.Violation{
			Type:        security.ViolationRateLimit,
			Severity:    security.SeverityMedium,
			Description: "request budget exceeded",
			ActorID:     actor.ActorID,
			Origin:      actor.Origin,
			Operation:   operation,
			Metadata:    map[string]any{"limit": g.limiter.Budget(operation)},
		})
		return apperror.NewRateLimited(operation, g.limiter.Budget(operation))
	}

	return nil
}

// Inspect re-checks the rule table with a fuller Meta, without charging
// the rate budget. Engines call it mid-operation once the true entity
// count is known; Admit has already counted the call at the edge.
func (g *Guard) Inspect(ctx context.Context, resource, action string, meta Meta) error {
	actor := appctx.GetActor(ctx)
	if actor == nil {
		return apperror.NewUnauthorized("authentication required")
	}
	return g.checkRules(ctx, actor, resource, action, meta)
}

// checkRules walks the rule table. The request is admitted by the first
// matching rule whose role list and condition both hold; a resource/action
// pair with no rule at all is denied.
func (g *Guard) checkRules(ctx context.Context, actor *appctx.ActorContext, resource, action string, meta Meta) error {
	activation := g.activation(actor, meta)

	matched := false
	var lastErr error
	for _, rule := range g.rules {
		if rule.Resource != resource || rule.Action != action {
			continue
		}
		matched = true

		if !actor.IsAdmin && !roleAllowed(rule.AllowedRoles, actor.Roles) {
			lastErr = apperror.NewPermissionDenied("role not permitted for this operation").
				WithDetail("resource", resource).
				WithDetail("action", action)
			continue
		}

		ok, err := rule.holds(activation)
		if err != nil {
			return apperror.NewInternal(err)
		}
		if !ok {
			lastErr = apperror.NewPermissionDenied("operation conditions not met").
				WithDetail("resource", resource).
				WithDetail("action", action).
				WithDetail("condition", rule.Condition)
			continue
		}

		return nil
	}

	if !matched {
		g.recordDenied(ctx, actor, resource, action, "no rule for operation")
		return apperror.NewPermissionDenied("operation is not permitted").
			WithDetail("resource", resource).
			WithDetail("action", action)
	}

	if appErr, ok := apperror.AsAppError(lastErr); ok {
		g.recordDenied(ctx, actor, resource, action, appErr.Message)
	}
	return lastErr
}

// activation builds the CEL input map for rule conditions.
func (g *Guard) activation(actor *appctx.ActorContext, meta Meta) map[string]any {
	now := g.nowFn()

	reauthAge := int64(1 << 20) // effectively "never" when unknown
	if !actor.LastAuthAt.IsZero() {
		reauthAge = int64(now.Sub(actor.LastAuthAt).Minutes())
	}

	roles := actor.Roles
	if roles == nil {
		roles = []string{}
	}

	return map[string]any{
		"hour":               int64(now.Hour()),
		"weekday":            int64(now.Weekday()),
		"reauth_age_minutes": reauthAge,
		"entity_count":       int64(meta.EntityCount),
		"roles":              roles,
	}
}

func (g *Guard) recordDenied(ctx context.Context, actor *appctx.ActorContext, resource, action, reason string) {
	g.violations.Record(ctx, security.Violation{
		Type:        security.ViolationPermissionDenied,
		Severity:    security.SeverityLow,
		Description: reason,
		ActorID:     actor.ActorID,
		Origin:      actor.Origin,
		Operation:   resource + ":" + action,
	})
}

func roleAllowed(allowed, actual []string) bool {
	for _, a := range allowed {
		for _, r := range actual {
			if a == r {
				return true
			}
		}
	}
	return false
}

// SetNow overrides the clock. Tests only.
func (g *Guard) SetNow(fn func() time.Time) {
	g.nowFn = fn
}
