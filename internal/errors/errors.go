// Package errors defines the structured error taxonomy shared by the stores
// and the overlay synchronizer.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	// KindIO is returned when a filesystem read, write or permission check fails.
	KindIO Kind = "IO_ERROR"
	// KindDecode is returned when a serialized record or manifest is malformed.
	KindDecode Kind = "DECODE_ERROR"
	// KindEncode is returned when a record cannot be serialized.
	KindEncode Kind = "ENCODE_ERROR"
	// KindEncoding is returned when an image cannot be encoded.
	KindEncoding Kind = "ENCODING_ERROR"
	// KindNetwork is returned when a remote endpoint cannot be reached.
	KindNetwork Kind = "NETWORK_ERROR"

	// KindNotFound is returned at the HTTP boundary when a record is absent.
	KindNotFound Kind = "NOT_FOUND"
	// KindValidation is returned when input data fails validation.
	KindValidation Kind = "VALIDATION_FAILED"
	// KindInternal is the fallback for unclassified errors.
	KindInternal Kind = "INTERNAL_ERROR"
)

// Error is a classified error with an operation name and an optional cause.
type Error struct {
	kind       Kind
	op         string
	message    string
	wrappedErr error
}

// New creates an Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{kind: kind, op: op, message: message}
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.message
	if e.op != "" {
		msg = e.op + ": " + msg
	}
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", msg, e.wrappedErr)
	}
	return msg
}

// Kind returns the error classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Op returns the operation that failed.
func (e *Error) Op() string {
	return e.op
}

// Unwrap returns the wrapped error if any.
func (e *Error) Unwrap() error {
	return e.wrappedErr
}

// Is reports whether target is an *Error of the same kind.
//
// It makes errors.Is(err, errors.New(KindIO, "", "")) style checks possible,
// but callers usually want KindOf.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.kind == e.kind && (t.op == "" || t.op == e.op)
}

// StatusCode maps the kind to an HTTP status code.
func (e *Error) StatusCode() int {
	switch e.kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindDecode, KindEncoding:
		return http.StatusBadRequest
	case KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

// Message returns a single human-readable sentence describing err, suitable
// for showing to a user.
func Message(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindIO:
		return "The item could not be read or written to storage."
	case KindDecode:
		return "The stored data is damaged and could not be read."
	case KindEncode:
		return "The item could not be saved because it could not be serialized."
	case KindEncoding:
		return "The image could not be saved."
	case KindNetwork:
		return "The server could not be reached."
	case KindNotFound:
		return "The item does not exist."
	case KindValidation:
		var e *Error
		if stderrors.As(err, &e) {
			return e.message
		}
		return "The request is invalid."
	default:
		return "An unexpected error occurred."
	}
}

// Predefined constructors for common cases

// IO creates a KindIO error wrapping err.
func IO(op string, err error) *Error {
	return New(KindIO, op, "storage failure").Wrap(err)
}

// Decode creates a KindDecode error wrapping err.
func Decode(op string, err error) *Error {
	return New(KindDecode, op, "malformed data").Wrap(err)
}

// Encode creates a KindEncode error wrapping err.
func Encode(op string, err error) *Error {
	return New(KindEncode, op, "failed to serialize").Wrap(err)
}

// Encoding creates a KindEncoding error wrapping err.
func Encoding(op string, err error) *Error {
	return New(KindEncoding, op, "failed to encode image").Wrap(err)
}

// Network creates a KindNetwork error wrapping err.
func Network(op string, err error) *Error {
	return New(KindNetwork, op, "request failed").Wrap(err)
}

// NotFound creates a KindNotFound error.
func NotFound(resource string) *Error {
	return New(KindNotFound, "", fmt.Sprintf("%s not found", resource))
}

// BadRequest creates a KindValidation error.
func BadRequest(message string) *Error {
	return New(KindValidation, "", message)
}

// MissingField creates a KindValidation error for a missing field.
func MissingField(fieldName string) *Error {
	return New(KindValidation, "", fmt.Sprintf("Missing required field: %s", fieldName))
}
