// Package errors defines the structured error type shared by every authgate
// package. Each error carries a stable machine-readable [Code] whose
// category prefix decides how it is surfaced: the gateway boundary turns
// every AUTH_xxx and UNAVAIL_004 error into the same 401 response, while
// the precise code and message stay in server-side logs.
//
// Errors chain through [Error.Unwrap], so both the standard library
// helpers and the code-based helpers in this package work on wrapped
// values:
//
//	err := errors.Wrap(fetchErr, errors.CodeUnavailableKeySet, "key set fetch failed")
//	if errors.HasCode(err, errors.CodeUnavailableKeySet) {
//	    // fail closed
//	}
package errors

import (
	"fmt"
	"maps"
	"net/http"
)

// Error is a coded error with an optional cause and structured details.
// Values are treated as immutable once returned.
type Error struct {
	// Code is the machine-readable error code (e.g., "AUTH_002").
	Code Code

	// Message is a short description for logs. It must never contain
	// token material or secrets.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Details carries structured context (key id, algorithm, URL) for logs.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause so that errors.Is and errors.As see through
// the wrapper.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code conventionally associated with the
// error's category. The authentication middleware does not use it for
// rejections (those are always 401); it serves the non-auth endpoints.
func (e *Error) HTTPStatus() int {
	switch e.Code.Category() {
	case categoryValidation:
		return http.StatusBadRequest
	case categoryAuthentication:
		return http.StatusUnauthorized
	case categoryAuthorization:
		return http.StatusForbidden
	case categoryNotFound:
		return http.StatusNotFound
	case categoryConflict:
		return http.StatusConflict
	case categoryUnavailable:
		return http.StatusServiceUnavailable
	case categoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WithDetail returns a copy of e with key set to value in its details.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	maps.Copy(details, e.Details)
	details[key] = value
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: details,
	}
}

// Format implements fmt.Formatter. %+v prints code, message, details and
// the cause chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
