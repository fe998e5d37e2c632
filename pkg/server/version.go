package server

import (
	"net/http"

	mcperrors "github.com/ajitpratap0/transcript-mcp/pkg/errors"
)

// ProtocolVersionHeader carries the client's MCP revision.
const ProtocolVersionHeader = "MCP-Protocol-Version"

// VersionGuard admits requests that either omit the protocol version header
// or name the one supported revision.
type VersionGuard struct {
	Supported string
}

// Validate reports whether a request carrying value is allowed. present is
// false when the header was absent.
func (g VersionGuard) Validate(value string, present bool) bool {
	return !present || value == g.Supported
}

// Check validates r and returns the error to send, or nil.
func (g VersionGuard) Check(r *http.Request) *mcperrors.Error {
	values, present := r.Header[http.CanonicalHeaderKey(ProtocolVersionHeader)]
	var value string
	if present && len(values) > 0 {
		value = values[0]
	}
	if g.Validate(value, present) {
		return nil
	}
	return mcperrors.InvalidProtocolVersion(value, g.Supported)
}
