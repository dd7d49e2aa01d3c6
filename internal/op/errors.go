package op

import (
	"errors"
	"fmt"
)

// SerializationError reports a malformed operation payload.
//
// It is recoverable: the offending operation is rejected and every other
// operation in the same stream is still processed.
type SerializationError struct {
	// Line is the 1-based line in a JSONL stream, or 0 outside a stream.
	Line int

	// Field names the offending JSON key, when known.
	Field string

	Message string

	// Err is the underlying decode error, if any.
	Err error
}

func (e *SerializationError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Line > 0 {
		return fmt.Sprintf("serialization error at line %d: %s", e.Line, msg)
	}
	return "serialization error: " + msg
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// IsSerializationError returns true if err is or wraps a SerializationError.
func IsSerializationError(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}

func malformed(field, format string, args ...any) *SerializationError {
	return &SerializationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
