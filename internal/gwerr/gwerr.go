// Package gwerr defines the gateway's wire-facing error taxonomy. Every
// error that reaches a client carries one of these codes as its `code`
// value, plus the HTTP status to return and whether the caller may
// usefully retry.
package gwerr

import "fmt"

// Code is one of the fixed taxonomy values in the error code table.
type Code string

const (
	MissingAPIKey         Code = "MISSING_API_KEY"
	InvalidAPIKey         Code = "INVALID_API_KEY"
	ProxyNotFound         Code = "PROXY_NOT_FOUND"
	ProviderNotFound      Code = "PROVIDER_NOT_FOUND"
	ProxyDisabled         Code = "PROXY_DISABLED"
	ProviderDisabled      Code = "PROVIDER_DISABLED"
	CircularProxy         Code = "CIRCULAR_PROXY"
	ModelNotSupported     Code = "MODEL_NOT_SUPPORTED"
	ModelMappingRequired  Code = "MODEL_MAPPING_REQUIRED"
	ProviderUnreachable   Code = "PROVIDER_UNREACHABLE"
	ConnectionTimeout     Code = "CONNECTION_TIMEOUT"
	RateLimited           Code = "RATE_LIMITED"
	AdapterError          Code = "ADAPTER_ERROR"
	InternalError         Code = "INTERNAL_ERROR"
	InvalidRequest        Code = "INVALID_REQUEST"
)

// httpStatus is the fixed code→status table.
var httpStatus = map[Code]int{
	MissingAPIKey:        401,
	InvalidAPIKey:        401,
	ProxyNotFound:        404,
	ProviderNotFound:     503,
	ProxyDisabled:        403,
	ProviderDisabled:     503,
	CircularProxy:        500,
	ModelNotSupported:    400,
	ModelMappingRequired: 400,
	ProviderUnreachable:  502,
	ConnectionTimeout:    504,
	RateLimited:          429,
	AdapterError:         502, // overridden by Error.Status when upstream status is known
	InternalError:        500,
	InvalidRequest:       400,
}

var retryable = map[Code]bool{
	ProviderUnreachable: true,
	ConnectionTimeout:   true,
	RateLimited:         true,
	// AdapterError's retryability depends on the underlying cause; callers
	// should consult Error.Retryable rather than this table for that code.
}

// Error is the gateway's internal error type, carrying everything needed to
// render a dialect-specific wire envelope.
type Error struct {
	Code      Code
	Message   string
	Status    int  // HTTP status; 0 means "use the code's default"
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status to write for this error.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return 500
}

// New builds an Error with the code's default status and retryability.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable[code]}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap builds an Error that carries an underlying cause.
func Wrap(code Code, cause error, message string) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// WithStatus overrides the HTTP status (used for ADAPTER_ERROR, where the
// upstream's own status code is forwarded verbatim).
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithRetryable overrides the default retryability.
func (e *Error) WithRetryable(r bool) *Error {
	e.Retryable = r
	return e
}

// As reports whether err is a *Error and returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
