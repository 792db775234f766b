// Package id provides UUIDv7 generation for all platform entities.
// Operations, snapshots and audit entries all sort naturally by creation
// time thanks to the embedded timestamp.
package id

import (
	"github.com/google/uuid"
)

// ID is a type alias for UUID, used across all entities.
type ID = uuid.UUID

// New generates a new UUIDv7 (time-ordered UUID).
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to V4 if V7 fails (should never happen)
		return uuid.New()
	}
	return id
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse converts string to ID, panics on error.
// Use only for constants and tests.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// Deterministic derives a stable UUIDv5 from a name. Repeated scans over
// unchanged data must report identical issue IDs, so issues cannot carry
// random identity.
func Deterministic(name string) ID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
}

// Nil returns zero-value UUID.
func Nil() ID {
	return uuid.Nil
}

// IsNil checks if ID is zero-value.
func IsNil(id ID) bool {
	return id == uuid.Nil
}
