package port

import (
	"errors"
	"sort"
	"strings"
)

// Sentinel errors used across ports. Handlers map these to HTTP status codes.
var (
	ErrUnauthenticated = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrUpstream        = errors.New("upstream provider failure")
	ErrConflict        = errors.New("conflict")
)

// Invitation redemption failures. Each one is a validation error.
var (
	ErrInvitationUsed      = NewValidationError("invitationCode", "invitation already used")
	ErrInvitationExpired   = NewValidationError("invitationCode", "invitation expired")
	ErrInvitationCancelled = NewValidationError("invitationCode", "invitation cancelled")
	ErrInvitationNotFound  = NewValidationError("invitationCode", "invitation not found")
)

// ErrNotConnected means the user has no usable Strava authorization and must
// connect the account again.
var ErrNotConnected = NewValidationError("strava", "strava account not connected or authorization revoked; reconnect required")

// ValidationError carries per-field detail for malformed input.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Add records another field failure and returns the receiver.
func (e *ValidationError) Add(field, msg string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) true for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ForbiddenError is a relationship check failure with a human-readable reason.
type ForbiddenError struct {
	Reason string
}

// Forbidden returns a ForbiddenError with the given reason.
func Forbidden(reason string) *ForbiddenError {
	return &ForbiddenError{Reason: reason}
}

func (e *ForbiddenError) Error() string { return e.Reason }

// Is makes errors.Is(err, ErrForbidden) true for any ForbiddenError.
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// ConflictError is a uniqueness or concurrency clash with a human-readable reason.
type ConflictError struct {
	Reason string
}

// Conflict returns a ConflictError with the given reason.
func Conflict(reason string) *ConflictError {
	return &ConflictError{Reason: reason}
}

func (e *ConflictError) Error() string { return e.Reason }

// Is makes errors.Is(err, ErrConflict) true for any ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
