package task

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the sentinel every *ValidationError unwraps to.
	ErrValidation = errors.New("validation error")
	// ErrCycle reports a dependency cycle. It is also a validation error.
	ErrCycle = fmt.Errorf("%w: dependency cycle", ErrValidation)
)

// ValidationError describes a rejected task definition. Field names use the
// persisted JSON names ("cronExpression", "metadata.url", ...).
type ValidationError struct {
	Field string
	Msg   string
	// Err optionally carries a more specific sentinel (e.g. ErrCycle).
	Err error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrValidation
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Invalid builds a ValidationError for callers outside this package.
func Invalid(field, format string, args ...any) error {
	return invalid(field, format, args...)
}
