package schema

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes schema errors.
type ErrorKind string

const (
	// KindViolation is an unknown, missing or mistyped field, or an
	// unknown model.
	KindViolation ErrorKind = "SchemaViolation"

	// KindConflict is a re-registration with a different schema.
	KindConflict ErrorKind = "SchemaConflict"
)

// Error is returned by every registry check.
type Error struct {
	Kind    ErrorKind
	Model   string
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s.%s: %s", e.Kind, e.Model, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Model, e.Message)
}

// IsViolation returns true if err is or wraps a SchemaViolation.
func IsViolation(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == KindViolation
	}
	return false
}

// IsConflict returns true if err is or wraps a SchemaConflict.
func IsConflict(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == KindConflict
	}
	return false
}

func violation(model, field, format string, args ...any) *Error {
	return &Error{Kind: KindViolation, Model: model, Field: field, Message: fmt.Sprintf(format, args...)}
}

func conflict(model, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Model: model, Message: fmt.Sprintf(format, args...)}
}
