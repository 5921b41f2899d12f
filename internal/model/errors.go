package model

import (
	"errors"
	"fmt"
)

// Sentinel errors. The API layer maps them to HTTP status codes via Code.
var (
	ErrNotFound       = errors.New("not_found")
	ErrAlreadySettled = errors.New("already_settled")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")

	// ErrAlreadyResolved is returned when resolving a resolved market.
	ErrAlreadyResolved = fmt.Errorf("already_resolved: %w", ErrAlreadySettled)
)

// ValidationError is a rejected request. Reason is shown to the user as is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Rejected builds a ValidationError.
func Rejected(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Error codes.
const (
	CodeValidation      = "validation_error"
	CodeNotFound        = "not_found"
	CodeAlreadySettled  = "already_settled"
	CodeAlreadyResolved = "already_resolved"
	CodeForbidden       = "forbidden"
	CodeConflict        = "conflict"
	CodeInternal        = "internal"
)

// Code returns the stable error code for err.
func Code(err error) string {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyResolved):
		return CodeAlreadyResolved
	case errors.Is(err, ErrAlreadySettled):
		return CodeAlreadySettled
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrConflict):
		return CodeConflict
	}
	return CodeInternal
}

// Retryable reports whether the caller may retry the same request.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
