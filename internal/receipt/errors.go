package receipt

import (
	"errors"
	"fmt"

	"github.com/zombor/warranty-tracker/internal/guarantee"
)

// ErrorKind classifies failures reported to collaborators
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindInvalidDate        ErrorKind = "invalid_date"
	KindStorage            ErrorKind = "storage"
	KindCorruptStore       ErrorKind = "corrupt_store"
	KindCollisionExhausted ErrorKind = "collision_exhausted"
	KindNotFound           ErrorKind = "not_found"
	KindReadOnly           ErrorKind = "read_only"
)

// Error is a failure with a kind and a message
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of err, or "" when err is not an *Error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// dateError maps guarantee failures onto error kinds
func dateError(field string, err error) error {
	switch {
	case errors.Is(err, guarantee.ErrInvalidDate):
		return newError(KindInvalidDate, err, "%s cannot be parsed", field)
	case errors.Is(err, guarantee.ErrInvalidUnit), errors.Is(err, guarantee.ErrNegativeDuration),
		errors.Is(err, guarantee.ErrDurationTooLong):
		return newError(KindValidation, err, "invalid guarantee for %s", field)
	default:
		return err
	}
}
