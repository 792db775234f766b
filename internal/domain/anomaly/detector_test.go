package anomaly

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

// midday keeps tests inside the safe-hours window.
var midday = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestDetector(t *testing.T) (*Detector, *security.ViolationLog, *time.Time) {
	t.Helper()
	now := midday
	violations := security.NewViolationLog(time.Hour, nil)
	violations.SetNow(func() time.Time { return now })
	d := New(DefaultHeuristics(DefaultConfig()), violations, DefaultDetectorConfig())
	d.SetNow(func() time.Time { return now })
	return d, violations, &now
}

func browserCtx(actorID, origin string) context.Context {
	return appctx.WithActor(context.Background(), &appctx.ActorContext{
		ActorID:   actorID,
		Origin:    origin,
		UserAgent: "Mozilla/5.0 (Macintosh) AppleWebKit/537.36",
	})
}

func TestEvaluate_NormalCallPasses(t *testing.T) {
	d, violations, _ := newTestDetector(t)

	err := d.Evaluate(browserCtx("u1", "10.0.0.1"), Meta{Operation: "deletion:execute", EntityCount: 4})
	assert.NoError(t, err)
	assert.Zero(t, violations.Len())
}

func TestEvaluate_BatchSizeHeuristic(t *testing.T) {
	d, violations, _ := newTestDetector(t)

	err := d.Evaluate(browserCtx("u1", "10.0.0.1"), Meta{Operation: "deletion:execute", EntityCount: 500})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeSuspiciousActivity, apperror.Code(err))
	assert.Len(t, violations.Recent("10.0.0.1", security.ViolationSuspiciousActivity, time.Hour), 1)
}

func TestEvaluate_ClientSignatureHeuristic(t *testing.T) {
	d, _, _ := newTestDetector(t)

	ctx := appctx.WithActor(context.Background(), &appctx.ActorContext{
		ActorID:   "u1",
		Origin:    "10.0.0.1",
		UserAgent: "curl/8.4.0",
	})
	err := d.Evaluate(ctx, Meta{Operation: "deletion:preview"})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeSuspiciousActivity, apperror.Code(err))
}

func TestEvaluate_OutsideSafeHours(t *testing.T) {
	d, _, now := newTestDetector(t)
	*now = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

	err := d.Evaluate(browserCtx("u1", "10.0.0.1"), Meta{Operation: "deletion:execute"})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeSuspiciousActivity, apperror.Code(err))
}

func TestEvaluate_BurstRate(t *testing.T) {
	d, _, _ := newTestDetector(t)
	ctx := browserCtx("u1", "10.0.0.1")

	var err error
	for i := 0; i < 25; i++ {
		err = d.Evaluate(ctx, Meta{Operation: "deletion:preview"})
	}
	require.Error(t, err)
	assert.Equal(t, apperror.CodeSuspiciousActivity, apperror.Code(err))
}

func TestEvaluate_RepeatedFailures(t *testing.T) {
	d, _, _ := newTestDetector(t)
	ctx := browserCtx("u1", "10.0.0.1")

	for i := 0; i < 6; i++ {
		d.RecordFailure("u1")
	}
	err := d.Evaluate(ctx, Meta{Operation: "deletion:execute"})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeSuspiciousActivity, apperror.Code(err))
}

func TestScreen_BatchSizeFiresOnRealCount(t *testing.T) {
	d, violations, _ := newTestDetector(t)
	ctx := browserCtx("u1", "10.0.0.1")

	err := d.Screen(ctx, Meta{Operation: "deletion.execute", EntityCount: 500})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeSuspiciousActivity, apperror.Code(err))
	assert.Len(t, violations.Recent("10.0.0.1", security.ViolationSuspiciousActivity, time.Hour), 1)
}

func TestScreen_DoesNotAdvanceBurstCounter(t *testing.T) {
	d, _, _ := newTestDetector(t)
	ctx := browserCtx("u1", "10.0.0.1")

	// Far beyond the per-minute burst threshold, yet never refused: the
	// mid-operation pass does not count as new calls.
	for i := 0; i < 50; i++ {
		require.NoError(t, d.Screen(ctx, Meta{Operation: "deletion.execute", EntityCount: 4}))
	}

	assert.NoError(t, d.Evaluate(ctx, Meta{Operation: "deletion.execute", EntityCount: 4}))
}

func TestEscalation_BlocksOriginThenExpires(t *testing.T) {
	d, _, now := newTestDetector(t)
	ctx := browserCtx("u1", "10.0.0.1")

	// Three oversized batches within five minutes escalate.
	for i := 0; i < 3; i++ {
		_ = d.Evaluate(ctx, Meta{Operation: "deletion:execute", EntityCount: 500})
		*now = now.Add(time.Minute)
	}
	require.True(t, d.IsBlocked("10.0.0.1"))

	// While blocked, even an innocuous call is refused.
	err := d.Evaluate(browserCtx("u2", "10.0.0.1"), Meta{Operation: "deletion:preview"})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeSuspiciousActivity, apperror.Code(err))

	// A different origin is unaffected.
	assert.NoError(t, d.Evaluate(browserCtx("u3", "10.0.0.2"), Meta{Operation: "deletion:preview"}))

	// The block expires after an hour.
	*now = now.Add(61 * time.Minute)
	assert.False(t, d.IsBlocked("10.0.0.1"))
}

func TestSweep_EvictsIdleState(t *testing.T) {
	d, _, now := newTestDetector(t)

	_ = d.Evaluate(browserCtx("u1", "10.0.0.1"), Meta{Operation: "deletion:preview"})
	require.NotEmpty(t, d.activity)

	*now = now.Add(10 * time.Minute)
	d.Sweep()
	assert.Empty(t, d.activity)
}
