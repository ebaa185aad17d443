package clinic

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned when a booking overlaps another appointment of
	// the same professional on the same day. Nothing is written.
	ErrConflict = errors.New("schedule conflict with another appointment of the same professional")
	ErrNotFound = errors.New("not found")
)

// ValidationError reports user input that must be corrected and resubmitted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
