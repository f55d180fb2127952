package engine

import (
	"errors"
	"fmt"
)

// ValidationError reports caller input that was rejected before any side
// effect took place.
type ValidationError struct {
	// Field names the offending input, if there is one.
	Field string

	// Message is a human-readable description. It is also the Error text,
	// so it can be shown to API clients unchanged.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// validation converts err into a *ValidationError for field, keeping its
// text.
func validation(field string, err error) error {
	return &ValidationError{Field: field, Message: err.Error(), Err: err}
}
