// Package apperr defines the error taxonomy shared by the HTTP layer, the
// measurement service and the integration event handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Kind classifies an Error. The zero value is never produced by constructors.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindNotFound
	KindRepository
	KindPublish
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindRepository:
		return "repository"
	case KindPublish:
		return "publish"
	default:
		return "unknown"
	}
}

// Error is the single error type carried across service boundaries.
type Error struct {
	Kind        Kind
	Message     string
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e.Description != "" {
		return e.Message + " " + e.Description
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status associated with the error kind.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func Validation(message, description string) *Error {
	return &Error{Kind: KindValidation, Message: message, Description: description}
}

func Conflict(message, description string) *Error {
	return &Error{Kind: KindConflict, Message: message, Description: description}
}

func NotFound(message, description string) *Error {
	return &Error{Kind: KindNotFound, Message: message, Description: description}
}

// Repository wraps a storage fault. pgx.ErrNoRows is reported as NotFound.
func Repository(err error) *Error {
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound("Resource not found!", "The requested resource was not found in the database.")
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{
		Kind:        KindRepository,
		Message:     "An internal error occurred in the database!",
		Description: err.Error(),
		Err:         err,
	}
}

func Publish(err error) *Error {
	return &Error{
		Kind:        KindPublish,
		Message:     "Event could not be published to the message bus.",
		Description: err.Error(),
		Err:         err,
	}
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// StatusCode maps any error to an HTTP status; unknown errors are 500.
func StatusCode(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.StatusCode()
	}
	return http.StatusInternalServerError
}

// ErrorBody is the JSON shape returned to HTTP callers.
type ErrorBody struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

// Body builds the response body for err.
func Body(err error) ErrorBody {
	var ae *Error
	if errors.As(err, &ae) {
		return ErrorBody{Code: ae.StatusCode(), Message: ae.Message, Description: ae.Description}
	}
	return ErrorBody{
		Code:        http.StatusInternalServerError,
		Message:     "An internal error occurred. Please try again later.",
		Description: fmt.Sprint(err),
	}
}
