// Package apperr defines the error taxonomy shared by the triage engine and
// its HTTP surface. Callers test the kind with errors.Is against the sentinel
// values and never parse messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Sentinel kinds. Every error produced by New* wraps exactly one of these.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
)

// Error carries a kind, a caller-facing message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Is reports whether target is the sentinel kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Validation reports malformed or out-of-range input.
func Validation(format string, args ...interface{}) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports that a referenced entity does not exist.
func NotFound(entity string, id interface{}) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s %v not found", entity, id)}
}

// Conflict reports a violated state-machine guard or a lost race.
func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps a persistence or infrastructure failure.
func Internal(op string, cause error) error {
	return &Error{Kind: ErrInternal, Message: op, Cause: cause}
}

// Status maps an error to its HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HTTP converts err into an echo.HTTPError. Internal causes are kept for the
// request logger but not exposed to the client.
func HTTP(err error) *echo.HTTPError {
	status := Status(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	var ae *Error
	if errors.As(err, &ae) {
		return echo.NewHTTPError(status, ae.Message)
	}
	return echo.NewHTTPError(status, err.Error())
}
