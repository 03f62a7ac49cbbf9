package response

import (
	"fmt"
	"net/http"

	"github.com/miragespace/vpsdash/apperror"
)

type Error struct {
	StatusCode int
	Message    string
	Messages   []string
	Result     interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) AddMessages(msgs ...string) *Error {
	e.Messages = append(e.Messages, msgs...)
	return e
}

func (e *Error) WithResult(result interface{}) *Error {
	e.Result = result
	return e
}

func makeError(status int) *Error {
	return &Error{
		StatusCode: status,
		Messages:   make([]string, 0),
	}
}

// -----------------------------------------------

func ErrUnexpected() *Error {
	return makeError(http.StatusInternalServerError).
		WithMessage("An unexpected error has occured")
}

func ErrBadRequest() *Error {
	return makeError(http.StatusBadRequest).
		WithMessage("Bad request")
}

func ErrUnauthorized() *Error {
	return makeError(http.StatusUnauthorized).
		WithMessage("Unauthorized")
}

func ErrForbidden() *Error {
	return makeError(http.StatusForbidden).
		WithMessage("Forbidden")
}

func ErrNotFound() *Error {
	return makeError(http.StatusNotFound).
		WithMessage("Requested resources not found")
}

func ErrConflict() *Error {
	return makeError(http.StatusConflict).
		WithMessage("Conflict")
}

func ErrTooManyRequests() *Error {
	return makeError(http.StatusTooManyRequests).
		WithMessage("Too many requests")
}

func ErrBadGateway() *Error {
	return makeError(http.StatusBadGateway).
		WithMessage("Upstream provider error")
}

func ErrInvalidJson() *Error {
	return ErrBadRequest().AddMessages("Invalid JSON body")
}

func ErrNoBearer() *Error {
	return ErrUnauthorized().AddMessages("No valid Bearer token found in header")
}

// FromError converts a classified error into the HTTP error reported to the caller.
// Unclassified errors never leak their text.
func FromError(err error) *Error {
	msg := apperror.MessageOf(err)
	switch apperror.KindOf(err) {
	case apperror.KindValidation, apperror.KindNotProvisioned, apperror.KindNoCredentials:
		return ErrBadRequest().AddMessages(msg)
	case apperror.KindNotFound:
		return ErrNotFound().AddMessages(msg)
	case apperror.KindForbidden:
		return ErrForbidden().AddMessages(msg)
	case apperror.KindSignature:
		return ErrUnauthorized().AddMessages(msg)
	case apperror.KindConflict:
		return ErrConflict().AddMessages(msg)
	case apperror.KindRateLimited:
		return ErrTooManyRequests().AddMessages(msg)
	case apperror.KindProvider, apperror.KindProvisioningFailed:
		return ErrBadGateway().AddMessages(msg)
	default:
		return ErrUnexpected()
	}
}
