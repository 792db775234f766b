// Package security provides the shared security-violation log and the
// outbound alert port used by the guard and the anomaly detector.
package security

import (
	"context"
	"sync"
	"time"
)

// ViolationType classifies a security violation.
type ViolationType string

const (
	ViolationRateLimit          ViolationType = "rate_limit"
	ViolationPermissionDenied   ViolationType = "permission_denied"
	ViolationSuspiciousActivity ViolationType = "suspicious_activity"
	ViolationDataIntegrity      ViolationType = "data_integrity"
	ViolationAuthentication     ViolationType = "authentication"
)

// Severity grades a violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation is one recorded security event.
type Violation struct {
	Type        ViolationType  `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	ActorID     string         `json:"actorId,omitempty"`
	Origin      string         `json:"origin,omitempty"`
	Operation   string         `json:"operation,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// AlertSink is the outbound port for immediate security alerts. Its failure
// is never propagated to the caller; implementations must be non-blocking
// or swallow their own errors.
type AlertSink interface {
	Alert(ctx context.Context, v Violation)
}

// AlertFunc adapts a function to AlertSink.
type AlertFunc func(ctx context.Context, v Violation)

func (f AlertFunc) Alert(ctx context.Context, v Violation) { f(ctx, v) }

// ViolationLog retains violations for a rolling window for live detection.
// It is a dependency-injected stateful service: construct one per process
// and share it between the guard and the detector.
type ViolationLog struct {
	mu      sync.Mutex
	entries []Violation
	window  time.Duration
	alerts  AlertSink
	nowFn   func() time.Time
}

// NewViolationLog creates a log retaining entries for the given window.
// alerts may be nil.
func NewViolationLog(window time.Duration, alerts AlertSink) *ViolationLog {
	if window <= 0 {
		window = time.Hour
	}
	return &ViolationLog{
		window: window,
		alerts: alerts,
		nowFn:  time.Now,
	}
}

// Record appends a violation. High and critical severities additionally go
// to the alert side-channel.
func (l *ViolationLog) Record(ctx context.Context, v Violation) {
	if v.Timestamp.IsZero() {
		v.Timestamp = l.nowFn()
	}

	l.mu.Lock()
	l.prune(l.nowFn())
	l.entries = append(l.entries, v)
	l.mu.Unlock()

	if l.alerts != nil && (v.Severity == SeverityHigh || v.Severity == SeverityCritical) {
		l.alerts.Alert(ctx, v)
	}
}

// Recent returns the violations matching the filter within the window,
// newest last. Zero-valued filter fields match everything.
func (l *ViolationLog) Recent(origin string, vtype ViolationType, within time.Duration) []Violation {
	now := l.nowFn()
	cutoff := now.Add(-within)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)

	var out []Violation
	for _, v := range l.entries {
		if v.Timestamp.Before(cutoff) {
			continue
		}
		if origin != "" && v.Origin != origin {
			continue
		}
		if vtype != "" && v.Type != vtype {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Len returns the number of retained violations.
func (l *ViolationLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.nowFn())
	return len(l.entries)
}

// prune drops entries older than the retention window. Caller holds mu.
func (l *ViolationLog) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.entries) && l.entries[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		l.entries = append([]Violation(nil), l.entries[idx:]...)
	}
}

// SetNow overrides the clock. Tests only.
func (l *ViolationLog) SetNow(fn func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFn = fn
}
