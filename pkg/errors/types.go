// Package errors provides the structured error taxonomy for the transcript MCP
// server. Every failure that reaches an HTTP client is described by an *Error
// carrying a stable string code, a human-readable message and optional
// structured data. Causes are kept for logging and never rendered.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category groups error codes for classification and handling.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryProtocol   Category = "protocol"
	CategoryNotFound   Category = "not_found"
	CategoryCapacity   Category = "capacity"
	CategoryTransport  Category = "transport"
	CategoryTimeout    Category = "timeout"
	CategoryInternal   Category = "internal"
)

// Severity indicates how critical an error is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Error is the structured error type used at the HTTP boundary.
type Error struct {
	code    Code
	message string
	data    map[string]interface{}
	cause   error
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Code() Code {
	return e.code
}

func (e *Error) Message() string {
	return e.message
}

// Data returns the structured fields rendered next to code and message.
func (e *Error) Data() map[string]interface{} {
	return e.data
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Category returns the category registered for the error's code.
func (e *Error) Category() Category {
	return GetCodeInfo(e.code).Category
}

// Severity returns the severity registered for the error's code.
func (e *Error) Severity() Severity {
	return GetCodeInfo(e.code).Severity
}

// HTTPStatus returns the HTTP status registered for the error's code.
func (e *Error) HTTPStatus() int {
	return GetCodeInfo(e.code).HTTPStatus
}

// With returns a copy of the error with an extra data field.
func (e *Error) With(key string, value interface{}) *Error {
	clone := *e
	clone.data = make(map[string]interface{}, len(e.data)+1)
	for k, v := range e.data {
		clone.data[k] = v
	}
	clone.data[key] = value
	return &clone
}

// ToJSON returns the error as a JSON-serializable map. Data fields are merged
// in but can never override code or message.
func (e *Error) ToJSON() map[string]interface{} {
	out := make(map[string]interface{}, len(e.data)+2)
	for k, v := range e.data {
		out[k] = v
	}
	out["code"] = string(e.code)
	out["message"] = e.message
	return out
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var target *Error
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsCode reports whether err's chain contains an *Error with the given code.
func IsCode(err error, code Code) bool {
	e, ok := AsError(err)
	return ok && e.code == code
}

// CodeOf returns the code of err, or CodeServerError for foreign errors.
func CodeOf(err error) Code {
	if e, ok := AsError(err); ok {
		return e.code
	}
	return CodeServerError
}
