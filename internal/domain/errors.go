package domain

import "errors"

// Domain errors
var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInternalError = errors.New("internal error")

	// ErrUnauthenticated is returned when the caller's identity could not be resolved
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrNotAuthorized is returned when the actor may not perform the operation
	ErrNotAuthorized = errors.New("not authorized")
)

// Session volume workflow errors
var (
	ErrInvalidPeriod          = errors.New("invalid period")
	ErrVolumeNotFound         = errors.New("session volume not found")
	ErrDuplicatePeriod        = errors.New("session volume already exists for this trainer, customer and period")
	ErrEditNotAllowed         = errors.New("session volume cannot be modified in its current status")
	ErrInvalidTransition      = errors.New("transition not allowed from current status")
	ErrMissingReason          = errors.New("rejection reason is required")
	ErrConcurrentModification = errors.New("session volume was modified concurrently")
)

// Store-level errors. The service translates these before they reach callers.
var (
	// ErrVolumeConflict signals a uniqueness or status guard violation at write time
	ErrVolumeConflict = errors.New("session volume write conflict")
	// ErrStaleState signals that the record's status changed since it was read
	ErrStaleState = errors.New("session volume status changed since read")
)

// Validation constants
const (
	MaxVolumeTextLength = 5000
	MaxReasonLength     = 500
)
