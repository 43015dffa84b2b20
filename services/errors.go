package services

import (
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Error kinds carried by every service error. Handlers turn them into HTTP statuses.
var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

// FieldError is used to indicate an error with a specific input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError lists the offending fields of a rejected input.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func NewValidationError(msg string, flds ...FieldError) error {
	return &ValidationError{Message: msg, Fields: flds}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// FieldsOf returns the field list of a validation error, if any.
func FieldsOf(err error) []FieldError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

// Kind classifies err as one of validation, not_found, forbidden, conflict or internal.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "internal"
}

func notFound(what string) error {
	return errors.Wrap(ErrNotFound, what)
}

func forbidden(msg string) error {
	return errors.Wrap(ErrForbidden, msg)
}

func conflict(msg string) error {
	return errors.Wrap(ErrConflict, msg)
}

func invalid(field, msg string) error {
	return NewValidationError(msg, FieldError{Field: field, Error: msg})
}

// lookup translates gorm's missing-row error into ErrNotFound and wraps everything else.
func lookup(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(what)
	}
	return errors.Wrapf(err, "load %s", what)
}
