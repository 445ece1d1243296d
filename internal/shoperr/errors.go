// Package shoperr defines the error taxonomy shared across the orchestration
// core and its HTTP boundary. Each code carries a stable string code, a
// numeric code, and an HTTP status so adapters can map failures without
// inspecting component internals.
package shoperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a taxonomy entry.
type Code string

const (
	// CodeClassificationFailure indicates the intent backend failed or
	// returned an unusable label. Absorbed by the graph via the FAQ fallback.
	CodeClassificationFailure Code = "classification_failure"
	// CodeRetrievalUnavailable indicates the circuit is open or retries
	// were exhausted against the vector index.
	CodeRetrievalUnavailable Code = "retrieval_unavailable"
	// CodeGenerationFailure indicates the LLM backend exhausted its retry
	// budget or timed out. Surfaced to the caller.
	CodeGenerationFailure Code = "generation_failure"
	// CodeSessionStoreUnavailable indicates a cache outage. Absorbed and
	// logged, never surfaced from PERSIST_TURN.
	CodeSessionStoreUnavailable Code = "session_store_unavailable"
	// CodeValidationFailure indicates malformed input at the boundary.
	CodeValidationFailure Code = "validation_failure"
	// CodeNotFound indicates a missing resource (e.g. unknown session).
	CodeNotFound Code = "not_found"
	// CodeInternal is the catch-all for unexpected failures.
	CodeInternal Code = "internal_error"
)

type registryEntry struct {
	message     string
	httpStatus  int
	numericCode int
}

var registry = map[Code]registryEntry{
	CodeClassificationFailure:   {"intent classification failed", http.StatusBadGateway, 1001},
	CodeRetrievalUnavailable:    {"context retrieval unavailable", http.StatusServiceUnavailable, 1002},
	CodeGenerationFailure:       {"response generation failed", http.StatusBadGateway, 1003},
	CodeSessionStoreUnavailable: {"session store unavailable", http.StatusServiceUnavailable, 1004},
	CodeValidationFailure:       {"invalid input provided", http.StatusBadRequest, 1005},
	CodeNotFound:                {"requested resource not found", http.StatusNotFound, 1006},
	CodeInternal:                {"internal server error", http.StatusInternalServerError, 1007},
}

// Error is a taxonomy-coded error.
type Error struct {
	Code    Code
	Message string
	cause   error
}

// New creates a taxonomy error with the registry default message.
func New(code Code) *Error {
	return &Error{Code: code, Message: registry[code].message}
}

// Newf creates a taxonomy error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a taxonomy error wrapping a cause.
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Message: registry[code].message, cause: cause}
}

// Wrapf creates a taxonomy error with a formatted message wrapping a cause.
func Wrapf(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is a taxonomy error with the same code.
// This lets callers match with errors.Is(err, shoperr.New(code)).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// HTTPStatus returns the HTTP status for the error's code.
func (e *Error) HTTPStatus() int {
	if entry, ok := registry[e.Code]; ok {
		return entry.httpStatus
	}
	return http.StatusInternalServerError
}

// NumericCode returns the stable numeric code for the error's code.
func (e *Error) NumericCode() int {
	return registry[e.Code].numericCode
}

// Is reports whether the error chain carries the given code.
func Is(err error, code Code) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// CodeOf extracts the taxonomy code from an error chain.
// Unknown errors map to CodeInternal.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeInternal
}

// HTTPStatusOf extracts the HTTP status from an error chain.
func HTTPStatusOf(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.HTTPStatus()
	}
	return http.StatusInternalServerError
}
