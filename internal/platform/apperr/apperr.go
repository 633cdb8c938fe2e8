// Package apperr defines the error kinds shared by the matching, triage and
// case packages and maps them onto HTTP responses.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	// ErrInvalidCoordinate is returned for a latitude or longitude outside its valid range.
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrInvalidTransition is returned when a status change is not an edge of the state graph.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConcurrentModification is returned when a conditional write lost a race.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrUpstreamUnavailable is returned when a catalog, position or persistence
	// collaborator failed or timed out.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
)

// Validation wraps a field-level message with ErrValidation.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Upstream wraps err with ErrUpstreamUnavailable, naming the failed operation.
// Deadline and cancellation errors keep their identity so callers can still
// tell a timeout apart with errors.Is(err, context.DeadlineExceeded).
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, op, err)
}

// IsTimeout reports whether err was caused by an expired deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// StatusCode returns the HTTP status that represents err.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidCoordinate), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConcurrentModification):
		return http.StatusConflict
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a stable machine-readable name for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCoordinate):
		return "invalid_coordinate"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case IsTimeout(err):
		return "upstream_timeout"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "internal"
	}
}

// ToHTTP converts err into an *echo.HTTPError carrying the error code and message.
func ToHTTP(err error) *echo.HTTPError {
	status := StatusCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	he := echo.NewHTTPError(status, map[string]string{
		"code":    Code(err),
		"message": msg,
	})
	return he.SetInternal(err)
}
