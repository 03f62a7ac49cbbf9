// Package apperror classifies failures so every caller reports them the same way.
package apperror

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a failure
type Kind string

// Known kinds
const (
	KindUnknown            Kind = ""
	KindValidation         Kind = "Validation"
	KindNotFound           Kind = "NotFound"
	KindForbidden          Kind = "Forbidden"
	KindProvider           Kind = "Provider"
	KindNotProvisioned     Kind = "NotProvisioned"
	KindProvisioningFailed Kind = "ProvisioningFailed"
	KindNoCredentials      Kind = "NoCredentialsAvailable"
	KindSignature          Kind = "SignatureVerification"
	KindConflict           Kind = "Conflict"
	KindRateLimited        Kind = "RateLimited"
	KindInternal           Kind = "Internal"
)

// Error carries a Kind, a user-facing Message and the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error of the given kind without a cause
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap returns an Error of the given kind wrapping err
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) *Error { return New(KindValidation, msg) }

func NotFound(msg string) *Error { return New(KindNotFound, msg) }

func Forbidden(msg string) *Error { return New(KindForbidden, msg) }

func Provider(err error, msg string) *Error { return Wrap(KindProvider, err, msg) }

func Internal(err error, msg string) *Error { return Wrap(KindInternal, err, msg) }

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the user-facing message of err. Errors without a Kind get a generic message.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "An unexpected error has occured"
}
