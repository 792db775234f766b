package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cantus/internal/core/apperror"
	appctx "cantus/internal/core/context"
	"cantus/internal/core/security"
)

func newTestGuard(t *testing.T, rules []Rule, limiterCfg LimiterConfig) (*Guard, *security.ViolationLog) {
	t.Helper()
	violations := security.NewViolationLog(time.Hour, nil)
	g, err := New(rules, NewRateLimiter(limiterCfg), violations)
	require.NoError(t, err)
	return g, violations
}

func actorCtx(actorID, origin string, roles ...string) context.Context {
	return appctx.WithActor(context.Background(), &appctx.ActorContext{
		ActorID:    actorID,
		Origin:     origin,
		Roles:      roles,
		LastAuthAt: time.Now(),
	})
}

func TestAdmit_AllowedRole(t *testing.T) {
	g, _ := newTestGuard(t, DefaultRules(), DefaultLimiterConfig())

	err := g.Admit(actorCtx("u1", "10.0.0.1", RoleRegistrar), "deletion", "preview", Meta{})
	assert.NoError(t, err)
}

func TestAdmit_NoActor(t *testing.T) {
	g, _ := newTestGuard(t, DefaultRules(), DefaultLimiterConfig())

	err := g.Admit(context.Background(), "deletion", "preview", Meta{})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeUnauthorized, apperror.Code(err))
}

func TestAdmit_UnknownOperationDenied(t *testing.T) {
	g, violations := newTestGuard(t, DefaultRules(), DefaultLimiterConfig())

	err := g.Admit(actorCtx("u1", "10.0.0.1", RoleAdmin), "deletion", "purge", Meta{})
	require.Error(t, err)
	assert.Equal(t, apperror.CodePermissionDenied, apperror.Code(err))
	assert.Len(t, violations.Recent("", security.ViolationPermissionDenied, time.Hour), 1)
}

func TestAdmit_RoleNotListed(t *testing.T) {
	g, _ := newTestGuard(t, DefaultRules(), DefaultLimiterConfig())

	err := g.Admit(actorCtx("u1", "10.0.0.1", RoleViewer), "deletion", "execute", Meta{})
	require.Error(t, err)
	assert.Equal(t, apperror.CodePermissionDenied, apperror.Code(err))
}

func TestAdmit_StaleReauthFailsCondition(t *testing.T) {
	g, _ := newTestGuard(t, DefaultRules(), DefaultLimiterConfig())

	ctx := appctx.WithActor(context.Background(), &appctx.ActorContext{
		ActorID:    "u1",
		Origin:     "10.0.0.1",
		Roles:      []string{RoleRegistrar},
		LastAuthAt: time.Now().Add(-2 * time.Hour),
	})

	err := g.Admit(ctx, "deletion", "execute", Meta{})
	require.Error(t, err)
	assert.Equal(t, apperror.CodePermissionDenied, apperror.Code(err))
}

func TestAdmit_AdminBypassesRolesNotConditions(t *testing.T) {
	rules := []Rule{{
		Resource:     "deletion",
		Action:       "execute",
		AllowedRoles: []string{RoleRegistrar},
		Condition:    "reauth_age_minutes <= 30",
	}}
	g, _ := newTestGuard(t, rules, DefaultLimiterConfig())

	ctx := appctx.WithActor(context.Background(), &appctx.ActorContext{
		ActorID:    "root",
		Origin:     "10.0.0.1",
		IsAdmin:    true,
		LastAuthAt: time.Now().Add(-2 * time.Hour),
	})

	err := g.Admit(ctx, "deletion", "execute", Meta{})
	require.Error(t, err, "admin still bound by the re-auth condition")
	assert.Equal(t, apperror.CodePermissionDenied, apperror.Code(err))
}

func TestInspect_EntityCountCondition(t *testing.T) {
	rules := []Rule{{
		Resource:     "deletion",
		Action:       "execute",
		AllowedRoles: []string{RoleRegistrar},
		Condition:    "entity_count <= 100",
	}}
	g, _ := newTestGuard(t, rules, DefaultLimiterConfig())
	ctx := actorCtx("u1", "10.0.0.1", RoleRegistrar)

	assert.NoError(t, g.Inspect(ctx, "deletion", "execute", Meta{EntityCount: 40}))

	err := g.Inspect(ctx, "deletion", "execute", Meta{EntityCount: 400})
	require.Error(t, err)
	assert.Equal(t, apperror.CodePermissionDenied, apperror.Code(err))
}

func TestInspect_DoesNotChargeBudget(t *testing.T) {
	cfg := LimiterConfig{Window: time.Minute, DefaultBudget: 2}
	g, _ := newTestGuard(t, DefaultRules(), cfg)
	ctx := actorCtx("u1", "10.0.0.1", RoleRegistrar)

	for i := 0; i < 5; i++ {
		require.NoError(t, g.Inspect(ctx, "deletion", "execute", Meta{EntityCount: 10}))
	}

	// The full budget is still available to Admit afterwards.
	assert.NoError(t, g.Admit(ctx, "deletion", "execute", Meta{}))
	assert.NoError(t, g.Admit(ctx, "deletion", "execute", Meta{}))
}

func TestNew_BadConditionFailsConstruction(t *testing.T) {
	rules := []Rule{{Resource: "x", Action: "y", AllowedRoles: []string{RoleAdmin}, Condition: "hour +"}}
	_, err := New(rules, NewRateLimiter(DefaultLimiterConfig()), security.NewViolationLog(time.Hour, nil))
	assert.Error(t, err)
}

func TestRateLimit_BudgetExhaustionAndExpiry(t *testing.T) {
	cfg := LimiterConfig{Window: time.Minute, DefaultBudget: 10}
	g, violations := newTestGuard(t, DefaultRules(), cfg)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g.limiter.SetNow(func() time.Time { return now })

	ctx := actorCtx("u1", "10.0.0.1", RoleViewer)

	for i := 0; i < 10; i++ {
		require.NoError(t, g.Admit(ctx, "deletion", "preview", Meta{}), "call %d", i+1)
	}

	err := g.Admit(ctx, "deletion", "preview", Meta{})
	require.Error(t, err, "11th call within the window")
	assert.Equal(t, apperror.CodeRateLimited, apperror.Code(err))
	assert.Len(t, violations.Recent("10.0.0.1", security.ViolationRateLimit, time.Hour), 1)

	// A different actor from the same origin has its own counter.
	assert.NoError(t, g.Admit(actorCtx("u2", "10.0.0.1", RoleViewer), "deletion", "preview", Meta{}))

	// First call after window expiry is admitted again.
	now = now.Add(61 * time.Second)
	assert.NoError(t, g.Admit(ctx, "deletion", "preview", Meta{}))
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(LimiterConfig{Window: time.Minute, DefaultBudget: 5})
	now := time.Now()
	rl.SetNow(func() time.Time { return now })

	rl.Allow("op", "u1", "o1")
	rl.Allow("op", "u2", "o2")
	require.Len(t, rl.counters, 2)

	now = now.Add(3 * time.Minute)
	rl.Sweep()
	assert.Empty(t, rl.counters)
}
