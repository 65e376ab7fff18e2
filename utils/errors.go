package utils

import (
	"fmt"

	"github.com/pkg/errors"
)

type fieldRequiredError struct {
	path  string
	field string
}

func (e *fieldRequiredError) Error() string {
	return fmt.Sprintf("error validating %q: %q is required", e.path, e.field)
}

// NewConfigValidationFieldRequiredError is returned by a config Validate method when a required
// field is missing.
func NewConfigValidationFieldRequiredError(path, field string) error {
	return errors.WithStack(&fieldRequiredError{path: path, field: field})
}

// GetFieldFromFieldRequiredError returns the missing field of an error created by
// NewConfigValidationFieldRequiredError, or "" for any other error.
func GetFieldFromFieldRequiredError(err error) string {
	var fieldErr *fieldRequiredError
	if errors.As(err, &fieldErr) {
		return fieldErr.field
	}
	return ""
}

// NewConfigValidationError wraps a validation failure with the dotted config path it occurred at.
func NewConfigValidationError(path string, err error) error {
	return errors.Wrapf(err, "error validating %q", path)
}

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}
