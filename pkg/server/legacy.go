package server

import (
	"net/http"

	mcperrors "github.com/ajitpratap0/transcript-mcp/pkg/errors"
)

const (
	// Endpoint is the single canonical MCP path.
	Endpoint = "/mcp"

	LegacyEventsEndpoint   = "/mcp/events"
	LegacyMessagesEndpoint = "/mcp/messages"
)

// legacyMethods maps each retired path to the method a client should now
// use against Endpoint.
var legacyMethods = map[string]string{
	LegacyEventsEndpoint:   http.MethodGet,
	LegacyMessagesEndpoint: http.MethodPost,
}

// IsLegacyPath reports whether path is a retired endpoint.
func IsLegacyPath(path string) bool {
	_, ok := legacyMethods[path]
	return ok
}

// LegacyResponse returns the 404 migration error for a retired path. The
// request method does not matter. ok is false for paths that were never
// retired.
func LegacyResponse(path string) (err *mcperrors.Error, ok bool) {
	method, ok := legacyMethods[path]
	if !ok {
		return nil, false
	}
	return mcperrors.EndpointDeprecated(mcperrors.Migration{
		OldEndpoint: path,
		NewEndpoint: Endpoint,
		Method:      method,
	}), true
}
