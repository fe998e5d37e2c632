package mcp

import (
	"github.com/ajitpratap0/transcript-mcp/pkg/app"
	"github.com/ajitpratap0/transcript-mcp/pkg/config"
	"github.com/ajitpratap0/transcript-mcp/pkg/protocol"
	"github.com/ajitpratap0/transcript-mcp/pkg/server"
	"github.com/ajitpratap0/transcript-mcp/pkg/session"
	"github.com/ajitpratap0/transcript-mcp/pkg/transcript"
)

// Version is the server version reported in serverInfo.
const Version = server.DefaultServerVersion

// Protocol constants
const (
	ProtocolVersion = protocol.ProtocolRevision
	Endpoint        = server.Endpoint
	SessionIDHeader = server.SessionIDHeader
	ToolName        = server.TranscriptToolName
)

// Server assembly
var (
	// NewServer wires a complete server from a configuration
	NewServer = app.New

	// NewRegistry creates a session registry
	NewRegistry = session.NewRegistry

	// NewRouter creates the /mcp request router
	NewRouter = server.NewRouter

	// NewDispatcher creates the MCP method dispatcher
	NewDispatcher = server.NewDispatcher

	// NewYouTube creates the YouTube transcript fetcher
	NewYouTube = transcript.NewYouTube
)

// Server options
var (
	WithLogger  = app.WithLogger
	WithFetcher = app.WithFetcher
	WithVersion = app.WithVersion
)

// Configuration
var (
	BuildConfig        = config.Build
	DefaultConfig      = config.Default
	WithHost           = config.WithHost
	WithPort           = config.WithPort
	WithMaxClients     = config.WithMaxClients
	WithCORS           = config.WithCORS
	WithMetricsAddr    = config.WithMetricsAddr
	WithHeartbeat      = config.WithHeartbeatInterval
	WithInactivity     = config.WithInactivityTimeout
	WithRequestTimeout = config.WithRequestTimeout
	WithAllowedHosts   = config.WithAllowedHosts
	WithAllowedOrigins = config.WithAllowedOrigins
)
