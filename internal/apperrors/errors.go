// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")

	// ErrAdmissionRejected means the queue is at capacity. It is returned
	// synchronously to the submitter and never persisted.
	ErrAdmissionRejected = errors.New("admission rejected")

	// ErrRuntimeUnavailable means no execution environment passed its probe
	// after all fallbacks were exhausted.
	ErrRuntimeUnavailable = errors.New("runtime unavailable")

	// ErrInvocation means the external computation failed to start or
	// exited non-zero.
	ErrInvocation = errors.New("invocation error")

	// ErrTimeout means the external computation exceeded the hard timeout
	// and was force-terminated.
	ErrTimeout = errors.New("timeout")
)

// Error provides a structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "inputPath")
	Resource string // For not found/conflict (e.g., "job")
	Op       string // Operation that failed (e.g., "docker.start")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// AdmissionRejected creates a capacity rejection carrying the counts that
// triggered it.
func AdmissionRejected(running, pending int) error {
	return &Error{
		Sentinel: ErrAdmissionRejected,
		Message:  fmt.Sprintf("queue at capacity: %d running, %d pending", running, pending),
		Resource: "job",
	}
}

// RuntimeUnavailable creates an error for exhausted execution environments.
func RuntimeUnavailable(detail string) error {
	return &Error{
		Sentinel: ErrRuntimeUnavailable,
		Message:  fmt.Sprintf("no execution environment available: %s", detail),
	}
}

// Invocation creates an error for a failed external computation.
func Invocation(op string, cause error) error {
	return &Error{
		Sentinel: ErrInvocation,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Timeout creates an error for an external computation that exceeded the
// hard timeout.
func Timeout(op, limit string) error {
	return &Error{
		Sentinel: ErrTimeout,
		Message:  fmt.Sprintf("%s exceeded hard timeout of %s", op, limit),
		Op:       op,
	}
}
