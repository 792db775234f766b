package guard

import (
	"context"
	"sync"
	"time"
)

// LimiterConfig configures the per-key request budget.
type LimiterConfig struct {
	// Window is the counting window (default 60s).
	Window time.Duration

	// DefaultBudget is the max requests per window per key.
	DefaultBudget int

	// Budgets overrides the budget per operation; bulk operations get a
	// tighter budget than reads.
	Budgets map[string]int

	// SweepInterval controls lazy eviction of idle counters.
	SweepInterval time.Duration
}

// DefaultLimiterConfig returns production defaults.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Window:        time.Minute,
		DefaultBudget: 30,
		Budgets: map[string]int{
			"deletion:execute":             10,
			"maintenance:orphan_cleanup":   5,
			"maintenance:integrity_repair": 5,
			"rollback:execute":             5,
		},
		SweepInterval: 5 * time.Minute,
	}
}

// counter is one fixed-window counter.
type counter struct {
	windowStart time.Time
	count       int
}

// RateLimiter counts requests per (operation, actor, origin) key in a fixed
// window. Counters are mutex-guarded (increment-and-compare is atomic under
// the lock) and idle keys are evicted by a periodic sweep, not eagerly.
type RateLimiter struct {
	mu       sync.Mutex
	counters map[string]*counter
	cfg      LimiterConfig
	nowFn    func() time.Time
}

// NewRateLimiter creates a limiter. Construct one per process and share it.
func NewRateLimiter(cfg LimiterConfig) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.DefaultBudget <= 0 {
		cfg.DefaultBudget = 30
	}
	return &RateLimiter{
		counters: make(map[string]*counter),
		cfg:      cfg,
		nowFn:    time.Now,
	}
}

// Budget returns the request budget for an operation.
func (rl *RateLimiter) Budget(operation string) int {
	if b, ok := rl.cfg.Budgets[operation]; ok {
		return b
	}
	return rl.cfg.DefaultBudget
}

// Allow admits or denies one request for the key. The counter is
// incremented only on admitted requests, so a throttled caller does not
// extend its own penalty.
func (rl *RateLimiter) Allow(operation, actorID, origin string) bool {
	key := operation + "|" + actorID + "|" + origin
	budget := rl.Budget(operation)
	now := rl.nowFn()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.counters[key]
	if !ok || now.Sub(c.windowStart) >= rl.cfg.Window {
		rl.counters[key] = &counter{windowStart: now, count: 1}
		return true
	}

	if c.count >= budget {
		return false
	}
	c.count++
	return true
}

// Start runs the periodic sweep until ctx is cancelled.
func (rl *RateLimiter) Start(ctx context.Context) {
	interval := rl.cfg.SweepInterval
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
				rl.Sweep()
			}
		}
	}()
}

// Sweep evicts counters whose window has long expired.
func (rl *RateLimiter) Sweep() {
	now := rl.nowFn()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, c := range rl.counters {
		if now.Sub(c.windowStart) >= 2*rl.cfg.Window {
			delete(rl.counters, key)
		}
	}
}

// SetNow overrides the clock. Tests only.
func (rl *RateLimiter) SetNow(fn func() time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.nowFn = fn
}
