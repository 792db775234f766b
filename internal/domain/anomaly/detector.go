// Package anomaly implements heuristic suspicious-activity detection.
// A positive finding denies the current call but never rolls back work
// already committed.
package anomaly

import (
	"context"
	"sync"
	"time"

	"cantus/internal/core/apperror"
	appctx "cantus/internal/core/context"
	"cantus/internal/core/security"
)

// DetectorConfig bounds escalation behavior.
type DetectorConfig struct {
	// BurstWindow is the self-expiring per-actor counter window.
	BurstWindow time.Duration

	// EscalationFindings findings from one origin within EscalationWindow
	// trigger a temporary origin block.
	EscalationFindings int
	EscalationWindow   time.Duration

	// BlockDuration is how long an escalated origin stays blocked.
	BlockDuration time.Duration

	// SweepInterval controls eviction of expired counters and blocks.
	SweepInterval time.Duration
}

// DefaultDetectorConfig returns production defaults: three findings within
// five minutes block the origin for one hour.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		BurstWindow:        time.Minute,
		EscalationFindings: 3,
		EscalationWindow:   5 * time.Minute,
		BlockDuration:      time.Hour,
		SweepInterval:      5 * time.Minute,
	}
}

// actorActivity is one actor's self-expiring burst counter.
type actorActivity struct {
	windowStart time.Time
	ops         int
	failures    int
}

// Detector evaluates the heuristic list per call and escalates repeat
// offenders to a temporary origin block. Construct one per process.
type Detector struct {
	heuristics []Heuristic
	violations *security.ViolationLog
	cfg        DetectorConfig

	mu       sync.Mutex
	activity map[string]*actorActivity
	blocked  map[string]time.Time // origin -> block expiry

	nowFn func() time.Time
}

// New creates a detector with the given heuristic list.
func New(heuristics []Heuristic, violations *security.ViolationLog, cfg DetectorConfig) *Detector {
	return &Detector{
		heuristics: heuristics,
		violations: violations,
		cfg:        cfg,
		activity:   make(map[string]*actorActivity),
		blocked:    make(map[string]time.Time),
		nowFn:      time.Now,
	}
}

// Meta carries per-call inputs for evaluation.
type Meta struct {
	Operation   string
	EntityCount int
}

// Evaluate runs every heuristic for the call. It returns nil when the call
// looks normal, or a SUSPICIOUS_ACTIVITY refusal when any heuristic fires
// or the origin is currently blocked. Findings are recorded as violations.
func (d *Detector) Evaluate(ctx context.Context, meta Meta) error {
	return d.evaluate(ctx, meta, true)
}

// Screen re-runs the heuristics mid-operation, once the real entity count
// is known, without advancing the actor's burst counter: the admission
// pass at the edge has already counted the call.
func (d *Detector) Screen(ctx context.Context, meta Meta) error {
	return d.evaluate(ctx, meta, false)
}

func (d *Detector) evaluate(ctx context.Context, meta Meta, countCall bool) error {
	actor := appctx.GetActor(ctx)
	if actor == nil {
		return apperror.NewUnauthorized("authentication required")
	}

	now := d.nowFn()

	if until, blocked := d.blockedUntil(actor.Origin, now); blocked {
		return apperror.NewSuspiciousActivity("origin temporarily blocked").
			WithDetail("blocked_until", until.UTC().Format(time.RFC3339))
	}

	check := Check{
		Operation:   meta.Operation,
		ActorID:     actor.ActorID,
		Origin:      actor.Origin,
		UserAgent:   actor.UserAgent,
		EntityCount: meta.EntityCount,
		Hour:        now.Hour(),
	}
	if countCall {
		check.RecentOps, check.RecentFailures = d.bump(actor.ActorID, now)
	} else {
		check.RecentOps, check.RecentFailures = d.peek(actor.ActorID, now)
	}

	var fired []string
	for _, h := range d.heuristics {
		if h.Match(check) {
			fired = append(fired, h.Name)
		}
	}
	if len(fired) == 0 {
		return nil
	}

	for _, name := range fired {
		d.violations.Record(ctx, security.Violation{
			Type:        security.ViolationSuspiciousActivity,
			Severity:    security.SeverityMedium,
			Description: describe(name, check),
			ActorID:     actor.ActorID,
			Origin:      actor.Origin,
			Operation:   meta.Operation,
			Metadata:    map[string]any{"heuristic": name},
			Timestamp:   now,
		})
	}

	d.maybeEscalate(ctx, actor.Origin, now)

	return apperror.NewSuspiciousActivity(fired[0]).
		WithDetail("findings", fired)
}

// RecordFailure feeds a failed operation outcome back into the actor's
// burst counter so the repeated-failures heuristic can see it.
func (d *Detector) RecordFailure(actorID string) {
	now := d.nowFn()
	d.mu.Lock()
	defer d.mu.Unlock()
	a := d.activityLocked(actorID, now)
	a.failures++
}

// bump advances the actor's self-expiring counter and returns current totals.
func (d *Detector) bump(actorID string, now time.Time) (ops, failures int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := d.activityLocked(actorID, now)
	a.ops++
	return a.ops, a.failures
}

// peek reads current totals without advancing the counter.
func (d *Detector) peek(actorID string, now time.Time) (ops, failures int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := d.activityLocked(actorID, now)
	return a.ops, a.failures
}

// activityLocked returns the live counter for the actor, resetting an
// expired one. Caller holds mu.
func (d *Detector) activityLocked(actorID string, now time.Time) *actorActivity {
	a, ok := d.activity[actorID]
	if !ok || now.Sub(a.windowStart) >= d.cfg.BurstWindow {
		a = &actorActivity{windowStart: now}
		d.activity[actorID] = a
	}
	return a
}

// blockedUntil checks the origin block list, clearing an expired entry.
func (d *Detector) blockedUntil(origin string, now time.Time) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.blocked[origin]
	if !ok {
		return time.Time{}, false
	}
	if now.After(until) {
		delete(d.blocked, origin)
		return time.Time{}, false
	}
	return until, true
}

// maybeEscalate blocks the origin once it accumulates enough findings
// within the escalation window.
func (d *Detector) maybeEscalate(ctx context.Context, origin string, now time.Time) {
	recent := d.violations.Recent(origin, security.ViolationSuspiciousActivity, d.cfg.EscalationWindow)
	if len(recent) < d.cfg.EscalationFindings {
		return
	}

	until := now.Add(d.cfg.BlockDuration)
	d.mu.Lock()
	d.blocked[origin] = until
	d.mu.Unlock()

	d.violations.Record(ctx, security.Violation{
		Type:        security.ViolationSuspiciousActivity,
		Severity:    security.SeverityHigh,
		Description: "origin blocked after repeated findings",
		Origin:      origin,
		Metadata:    map[string]any{"blocked_until": until.UTC().Format(time.RFC3339)},
		Timestamp:   now,
	})
}

// IsBlocked reports whether the origin is currently blocked.
func (d *Detector) IsBlocked(origin string) bool {
	_, blocked := d.blockedUntil(origin, d.nowFn())
	return blocked
}

// Start runs the periodic sweep until ctx is cancelled.
func (d *Detector) Start(ctx context.Context) {
	interval := d.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.Sweep()
			}
		}
	}()
}

// Sweep evicts expired burst counters and origin blocks.
func (d *Detector) Sweep() {
	now := d.nowFn()
	d.mu.Lock()
	defer d.mu.Unlock()
	for actorID, a := range d.activity {
		if now.Sub(a.windowStart) >= 2*d.cfg.BurstWindow {
			delete(d.activity, actorID)
		}
	}
	for origin, until := range d.blocked {
		if now.After(until) {
			delete(d.blocked, origin)
		}
	}
}

// SetNow overrides the clock. Tests only.
func (d *Detector) SetNow(fn func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nowFn = fn
}
