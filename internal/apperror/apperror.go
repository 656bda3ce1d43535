package apperror

import (
	"errors"
	"net/http"
)

// Kind sentinels. Every *Error unwraps to exactly one of them, so callers can
// branch with errors.Is(err, apperror.ErrNotFound).
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRailFailure       = errors.New("settlement rail failure")
	ErrRailUnknown       = errors.New("settlement outcome unknown")
	ErrPersistence       = errors.New("persistence failure")
	ErrConflict          = errors.New("conflict")
)

// Error is a business error with a message that is safe to return to the caller.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Validation reports a caller-fixable request problem (bad amount, frozen card, ...).
func Validation(msg string) *Error { return newError(ErrValidation, msg, nil) }

// NotFound reports a missing or inactive entity.
func NotFound(msg string) *Error { return newError(ErrNotFound, msg, nil) }

// InsufficientFunds reports a local balance that cannot cover the operation.
func InsufficientFunds(msg string) *Error { return newError(ErrInsufficientFunds, msg, nil) }

// RailFailure reports an external rail that rejected or did not confirm a transfer.
func RailFailure(msg string, cause error) *Error { return newError(ErrRailFailure, msg, cause) }

// RailUnknown reports an external call whose outcome could not be determined.
func RailUnknown(msg string, cause error) *Error { return newError(ErrRailUnknown, msg, cause) }

// Persistence reports a failed local commit.
func Persistence(msg string, cause error) *Error { return newError(ErrPersistence, msg, cause) }

// Conflict reports a duplicate idempotent reference.
func Conflict(msg string, cause error) *Error { return newError(ErrConflict, msg, cause) }

// HTTPStatus maps an error to the status code the transport layer should use.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRailFailure):
		return http.StatusBadGateway
	case errors.Is(err, ErrRailUnknown):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the message to show the caller. Errors outside the taxonomy
// are not echoed back.
func Public(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return "operation failed, retry later"
}
