// Package context provides request-scoped values extraction.
package context

import (
	"context"
	"time"
)

// ActorContext contains the authenticated caller of an engine operation.
// It is populated by the auth middleware and consumed by the guard,
// the anomaly detector and the audit recorder.
type ActorContext struct {
	ActorID   string
	Email     string
	Roles     []string
	IsAdmin   bool
	SessionID string

	// Origin is the remote address the request arrived from.
	Origin string

	// UserAgent is the raw client signature, used by anomaly heuristics.
	UserAgent string

	// LastAuthAt is when the actor last (re-)authenticated. Guard rules
	// may require a fresh re-authentication for destructive operations.
	LastAuthAt time.Time
}

type actorContextKey struct{}

// WithActor adds ActorContext to context.
func WithActor(ctx context.Context, actor *ActorContext) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// GetActor returns ActorContext from context, or nil.
func GetActor(ctx context.Context) *ActorContext {
	if v, ok := ctx.Value(actorContextKey{}).(*ActorContext); ok {
		return v
	}
	return nil
}

// GetActorID returns actor ID from context or empty string.
func GetActorID(ctx context.Context) string {
	if a := GetActor(ctx); a != nil {
		return a.ActorID
	}
	return ""
}

// PrimaryRole returns the first role of the actor, or empty string.
// Audit entries record a single role for the acting caller.
func (a *ActorContext) PrimaryRole() string {
	if a == nil || len(a.Roles) == 0 {
		return ""
	}
	return a.Roles[0]
}

// HasRole checks if actor has a specific role.
func HasRole(ctx context.Context, role string) bool {
	a := GetActor(ctx)
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
