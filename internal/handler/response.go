package handler

import (
	"errors"
	"net/http"

	"github.com/bodyback/bodyback-backend/internal/domain"
	"github.com/bodyback/bodyback-backend/internal/service"
	"github.com/labstack/echo/v4"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error types
const (
	ErrorTypeValidation    = "https://bodyback.app/errors/validation"
	ErrorTypeNotFound      = "https://bodyback.app/errors/not-found"
	ErrorTypeUnauthorized  = "https://bodyback.app/errors/unauthorized"
	ErrorTypeForbidden     = "https://bodyback.app/errors/forbidden"
	ErrorTypeConflict      = "https://bodyback.app/errors/conflict"
	ErrorTypeUnprocessable = "https://bodyback.app/errors/unprocessable"
	ErrorTypeUnavailable   = "https://bodyback.app/errors/unavailable"
	ErrorTypeInternal      = "https://bodyback.app/errors/internal"
)

// NewValidationError creates a validation error response
func NewValidationError(c echo.Context, detail string, errors []ValidationError) error {
	return c.JSON(http.StatusBadRequest, ProblemDetails{
		Type:     ErrorTypeValidation,
		Title:    "Validation Error",
		Status:   http.StatusBadRequest,
		Detail:   detail,
		Instance: c.Request().URL.Path,
		Errors:   errors,
	})
}

// NewNotFoundError creates a not found error response
func NewNotFoundError(c echo.Context, detail string) error {
	return c.JSON(http.StatusNotFound, ProblemDetails{
		Type:     ErrorTypeNotFound,
		Title:    "Not Found",
		Status:   http.StatusNotFound,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewUnauthorizedError creates an unauthorized error response
func NewUnauthorizedError(c echo.Context, detail string) error {
	return c.JSON(http.StatusUnauthorized, ProblemDetails{
		Type:     ErrorTypeUnauthorized,
		Title:    "Unauthorized",
		Status:   http.StatusUnauthorized,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewForbiddenError creates a forbidden error response
func NewForbiddenError(c echo.Context, detail string) error {
	return c.JSON(http.StatusForbidden, ProblemDetails{
		Type:     ErrorTypeForbidden,
		Title:    "Forbidden",
		Status:   http.StatusForbidden,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewConflictError creates a conflict error response
func NewConflictError(c echo.Context, detail string) error {
	return c.JSON(http.StatusConflict, ProblemDetails{
		Type:     ErrorTypeConflict,
		Title:    "Conflict",
		Status:   http.StatusConflict,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewInternalError creates an internal error response
func NewInternalError(c echo.Context, detail string) error {
	return c.JSON(http.StatusInternalServerError, ProblemDetails{
		Type:     ErrorTypeInternal,
		Title:    "Internal Server Error",
		Status:   http.StatusInternalServerError,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewUnprocessableError creates an unprocessable entity error response
func NewUnprocessableError(c echo.Context, detail string) error {
	return c.JSON(http.StatusUnprocessableEntity, ProblemDetails{
		Type:     ErrorTypeUnprocessable,
		Title:    "Unprocessable Entity",
		Status:   http.StatusUnprocessableEntity,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewUnavailableError creates a service unavailable error response
func NewUnavailableError(c echo.Context, detail string) error {
	return c.JSON(http.StatusServiceUnavailable, ProblemDetails{
		Type:     ErrorTypeUnavailable,
		Title:    "Service Unavailable",
		Status:   http.StatusServiceUnavailable,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// writeDomainError maps a workflow error to its problem details response.
// It reports false for errors it does not recognise.
func writeDomainError(c echo.Context, err error) (bool, error) {
	var fieldErr *domain.FieldError
	switch {
	case errors.As(err, &fieldErr):
		return true, NewValidationError(c, "Validation failed", []ValidationError{
			{Field: fieldErr.Field, Message: fieldErr.Message},
		})
	case errors.Is(err, domain.ErrInvalidPeriod):
		return true, NewValidationError(c, "Validation failed", []ValidationError{
			{Field: "period", Message: err.Error()},
		})
	case errors.Is(err, domain.ErrMissingReason):
		return true, NewValidationError(c, "Validation failed", []ValidationError{
			{Field: "reason", Message: "Rejection reason is required"},
		})
	case errors.Is(err, domain.ErrInvalidInput):
		return true, NewValidationError(c, err.Error(), nil)
	case errors.Is(err, domain.ErrUnauthenticated):
		return true, NewUnauthorizedError(c, "Authentication required")
	case errors.Is(err, domain.ErrNotAuthorized):
		return true, NewForbiddenError(c, "You are not allowed to perform this operation")
	case errors.Is(err, domain.ErrVolumeNotFound), errors.Is(err, domain.ErrNotFound):
		return true, NewNotFoundError(c, "Session volume not found")
	case errors.Is(err, domain.ErrDuplicatePeriod):
		return true, NewConflictError(c, "A session volume already exists for this trainer, customer and period")
	case errors.Is(err, domain.ErrConcurrentModification):
		return true, NewConflictError(c, "The session volume was modified concurrently, reload and try again")
	case errors.Is(err, domain.ErrEditNotAllowed):
		return true, NewUnprocessableError(c, "The session volume cannot be modified in its current status")
	case errors.Is(err, domain.ErrInvalidTransition):
		return true, NewUnprocessableError(c, "The requested transition is not allowed from the current status")
	case errors.Is(err, service.ErrReportStorageNotConfigured):
		return true, NewUnavailableError(c, "Report export is not enabled")
	}
	return false, nil
}
