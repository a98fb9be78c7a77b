// Package apierror is the small closed set of domain error kinds every
// operation in internal/workflow, internal/comm, and internal/api
// returns, each mapped to a canonical HTTP status and FHIR
// OperationOutcome issue-type code.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a closed enumeration of the error categories the API surface
// distinguishes.
type Kind int

const (
	BadRequest Kind = iota
	Unauthorized
	Forbidden
	NotFound
	Conflict
	Gone
	PayloadTooLarge
	UnsupportedMediaType
	NotAcceptable
	Internal
)

// Error is a Kind paired with a human-readable message and an optional
// wrapped cause, satisfying the standard error interface.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error carrying cause, or returns nil if cause is nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts an *Error from err via errors.As, reporting false if err
// is not (or does not wrap) one.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to its canonical HTTP status.
func (k Kind) HTTPStatus() int {
	switch k {
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Gone:
		return http.StatusGone
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case UnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case NotAcceptable:
		return http.StatusNotAcceptable
	default:
		return http.StatusInternalServerError
	}
}

// IssueType maps a Kind to the FHIR OperationOutcome.issue.code
// vocabulary entry used when rendering the error as an OperationOutcome.
func (k Kind) IssueType() string {
	switch k {
	case BadRequest:
		return "invalid"
	case Unauthorized:
		return "security"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not-found"
	case Conflict:
		return "conflict"
	case Gone:
		return "deleted"
	case PayloadTooLarge:
		return "too-long"
	case UnsupportedMediaType, NotAcceptable:
		return "not-supported"
	default:
		return "exception"
	}
}
