package errors

import "net/http"

// Code is a stable, client-visible error identifier.
type Code string

const (
	// CodeInvalidRequest covers malformed bodies, missing session ids and
	// rejected origins or hosts.
	CodeInvalidRequest Code = "invalid_request"
	// CodeInvalidProtocolVersion is returned when the protocol version header
	// is present but unsupported.
	CodeInvalidProtocolVersion Code = "invalid_protocol_version"
	CodeNotFound               Code = "not_found"
	// CodeTooManyClients is returned when a new session would exceed the
	// admission limit.
	CodeTooManyClients Code = "too_many_clients"
	// CodeTransportUnavailable means the optional request-response transport
	// is not compiled into this binary.
	CodeTransportUnavailable Code = "transport_unavailable"
	// CodeTimeout is sent on a stream before an idle session is evicted.
	CodeTimeout            Code = "timeout"
	CodeEndpointDeprecated Code = "endpoint_deprecated"
	CodeServerError        Code = "server_error"
)

// CodeInfo describes how a code is classified and rendered.
type CodeInfo struct {
	Code        Code
	HTTPStatus  int
	Category    Category
	Severity    Severity
	Description string
}

var codeRegistry = map[Code]CodeInfo{
	CodeInvalidRequest: {
		Code:        CodeInvalidRequest,
		HTTPStatus:  http.StatusBadRequest,
		Category:    CategoryValidation,
		Severity:    SeverityWarning,
		Description: "The request could not be accepted as sent",
	},
	CodeInvalidProtocolVersion: {
		Code:        CodeInvalidProtocolVersion,
		HTTPStatus:  http.StatusBadRequest,
		Category:    CategoryProtocol,
		Severity:    SeverityWarning,
		Description: "The protocol version header names an unsupported version",
	},
	CodeNotFound: {
		Code:        CodeNotFound,
		HTTPStatus:  http.StatusNotFound,
		Category:    CategoryNotFound,
		Severity:    SeverityInfo,
		Description: "No route or session matches the request",
	},
	CodeTooManyClients: {
		Code:        CodeTooManyClients,
		HTTPStatus:  http.StatusTooManyRequests,
		Category:    CategoryCapacity,
		Severity:    SeverityWarning,
		Description: "The admission limit has been reached",
	},
	CodeTransportUnavailable: {
		Code:        CodeTransportUnavailable,
		HTTPStatus:  http.StatusNotImplemented,
		Category:    CategoryTransport,
		Severity:    SeverityError,
		Description: "The request-response transport is not available",
	},
	CodeTimeout: {
		Code:        CodeTimeout,
		HTTPStatus:  http.StatusRequestTimeout,
		Category:    CategoryTimeout,
		Severity:    SeverityInfo,
		Description: "The session was idle longer than the inactivity timeout",
	},
	CodeEndpointDeprecated: {
		Code:        CodeEndpointDeprecated,
		HTTPStatus:  http.StatusNotFound,
		Category:    CategoryProtocol,
		Severity:    SeverityInfo,
		Description: "The endpoint has been replaced by the canonical endpoint",
	},
	CodeServerError: {
		Code:        CodeServerError,
		HTTPStatus:  http.StatusInternalServerError,
		Category:    CategoryInternal,
		Severity:    SeverityCritical,
		Description: "An unexpected server failure",
	},
}

// GetCodeInfo returns the registry entry for code. Unknown codes are treated
// as server errors.
func GetCodeInfo(code Code) CodeInfo {
	if info, ok := codeRegistry[code]; ok {
		return info
	}
	info := codeRegistry[CodeServerError]
	info.Code = code
	return info
}

// HTTPStatus returns the HTTP status for code.
func HTTPStatus(code Code) int {
	return GetCodeInfo(code).HTTPStatus
}

// Codes returns every registered code.
func Codes() []Code {
	codes := make([]Code, 0, len(codeRegistry))
	for code := range codeRegistry {
		codes = append(codes, code)
	}
	return codes
}
