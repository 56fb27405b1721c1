package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies relay failures by how they surface to callers.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindDownstream    Kind = "downstream"
	KindDuplicateKey  Kind = "duplicate_key"
	KindConfiguration Kind = "configuration"
)

// Error is the single error type shared by services and handlers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports a missing or malformed request field.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// NotFound reports an unresolvable session, user or display name.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Downstream reports a failed call to the PBX or the engagement platform.
func Downstream(message string, err error) *Error {
	return &Error{Kind: KindDownstream, Message: message, Err: err}
}

// DuplicateKey reports an insert over an existing session key.
func DuplicateKey(message string) *Error {
	return &Error{Kind: KindDuplicateKey, Message: message}
}

// Configuration reports a missing or invalid startup setting.
func Configuration(message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message}
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// HTTPStatus maps an error to the response status used by the HTTP adapters.
func HTTPStatus(err error) int {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}

	switch appErr.Kind {
	case KindValidation, KindDownstream:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicateKey:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
