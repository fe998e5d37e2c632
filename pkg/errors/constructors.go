package errors

import "fmt"

// InvalidRequest reports a request that cannot be accepted as sent.
func InvalidRequest(message string) *Error {
	return New(CodeInvalidRequest, message)
}

// InvalidProtocolVersion reports an unsupported protocol version header.
func InvalidProtocolVersion(got, supported string) *Error {
	return Newf(CodeInvalidProtocolVersion, "Unsupported protocol version %q", got).
		With("supported", supported)
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// TooManyClients reports that the admission limit has been reached.
func TooManyClients(limit int) *Error {
	return Newf(CodeTooManyClients, "Maximum number of clients (%d) reached", limit)
}

// TransportUnavailable reports that the optional request-response transport
// is missing from this build.
func TransportUnavailable() *Error {
	return New(CodeTransportUnavailable, "Streamable HTTP transport is not available in this build")
}

// Timeout is the frame payload sent on a stream before eviction.
func Timeout(sessionID string) *Error {
	return New(CodeTimeout, "Session timed out due to inactivity").With("sessionId", sessionID)
}

// RequestTimeout is the frame payload sent on a stream when one message
// runs past the request timeout. requestID is the JSON-RPC id, nil for none.
func RequestTimeout(requestID interface{}) *Error {
	return New(CodeTimeout, "Request timed out").With("requestId", requestID)
}

// ShuttingDown refuses new work while the server drains.
func ShuttingDown() *Error {
	return New(CodeServerError, "Server is shutting down")
}

// Migration names where a deprecated endpoint moved to.
type Migration struct {
	OldEndpoint string `json:"oldEndpoint"`
	NewEndpoint string `json:"newEndpoint"`
	Method      string `json:"method"`
}

// EndpointDeprecated reports a request to a retired endpoint.
func EndpointDeprecated(m Migration) *Error {
	msg := fmt.Sprintf("The %s endpoint has been deprecated. Use %s %s instead.", m.OldEndpoint, m.Method, m.NewEndpoint)
	return New(CodeEndpointDeprecated, msg).With("migration", m)
}

// ServerError wraps an unexpected failure. The cause is never rendered.
func ServerError(cause error) *Error {
	return Wrap(cause, CodeServerError, "Internal server error")
}
