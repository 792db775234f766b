// Package apperror provides structured error handling for the platform.
// Admission refusals (permission, rate limit, suspicious activity) are
// ordinary typed errors, distinguishable from engine failures by code.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes grouped by concern.
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"
	CodeTimeout  = "TIMEOUT_ERROR"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Admission refusals (403, 429)
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeSuspiciousActivity = "SUSPICIOUS_ACTIVITY"

	// Authorization errors (401)
	CodeUnauthorized = "UNAUTHORIZED"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict         = "CONFLICT"
	CodeDeleteInProgress = "DELETE_IN_PROGRESS"

	// Data consistency (422)
	CodeIntegrityViolation = "INTEGRITY_VIOLATION"
)

// AppError is the standard error type for the platform.
// It implements the error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (target refs, counters, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for common errors ---

// NewValidation creates a validation error (400). Never retried.
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewDatabase creates a database error (500). The driver error stays
// server-side; clients only learn which operation failed.
func NewDatabase(operation string, err error) *AppError {
	return &AppError{
		Code:       CodeDatabase,
		Message:    fmt.Sprintf("database operation failed: %s", operation),
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewPermissionDenied creates an admission refusal for missing permissions (403).
func NewPermissionDenied(message string) *AppError {
	return &AppError{
		Code:       CodePermissionDenied,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewRateLimited creates an admission refusal for exceeded request budget (429).
func NewRateLimited(operation string, limit int) *AppError {
	return &AppError{
		Code:       CodeRateLimited,
		Message:    "Too many requests. Please slow down.",
		HTTPStatus: http.StatusTooManyRequests,
		Details:    map[string]any{"operation": operation, "limit": limit},
	}
}

// NewSuspiciousActivity creates an admission refusal from the anomaly detector (403).
func NewSuspiciousActivity(reason string) *AppError {
	return &AppError{
		Code:       CodeSuspiciousActivity,
		Message:    "Request flagged by anomaly detection",
		HTTPStatus: http.StatusForbidden,
		Details:    map[string]any{"reason": reason},
	}
}

// NewDeleteInProgress is returned when a cascade is already active for the target.
// The caller may poll the operations endpoint instead of retrying.
func NewDeleteInProgress(targetKey string, operationID any) *AppError {
	return &AppError{
		Code:       CodeDeleteInProgress,
		Message:    "A deletion is already in progress for this entity",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"target": targetKey, "operation_id": operationID},
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewIntegrityViolation creates a data consistency error (422). Execution
// aborts on it; any snapshot already taken is preserved.
func NewIntegrityViolation(message string) *AppError {
	return &AppError{
		Code:       CodeIntegrityViolation,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewTimeout creates a wall-clock timeout error (504).
func NewTimeout(operation string, limitSeconds float64) *AppError {
	return &AppError{
		Code:       CodeTimeout,
		Message:    fmt.Sprintf("Operation %s exceeded its time limit", operation),
		HTTPStatus: http.StatusGatewayTimeout,
		Details:    map[string]any{"limit_seconds": limitSeconds},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Code returns the machine code of err, or CodeInternal for unknown errors.
func Code(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return Code(err) == CodeNotFound
}

// IsRefusal reports whether err is an admission refusal rather than an
// engine failure. Refusals are surfaced to the caller immediately and are
// never retried automatically.
func IsRefusal(err error) bool {
	switch Code(err) {
	case CodePermissionDenied, CodeRateLimited, CodeSuspiciousActivity:
		return true
	}
	return false
}
