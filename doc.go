// Package mcp embeds the YouTube transcript MCP server.
//
// The server speaks MCP JSON-RPC on one HTTP endpoint, /mcp, and offers a
// single tool, transcript_yt, which returns the caption segments of a
// YouTube video.
//
// # Overview
//
// The module consists of several sub-packages:
//
//   - pkg/session: the registry of live sessions, admission control,
//     heartbeats and inactivity eviction
//   - pkg/server: request routing, the MCP method dispatcher and the
//     transcript tool
//   - pkg/transport: stream session framing and the optional
//     request-response transport probe
//   - pkg/transcript: the YouTube caption fetcher
//   - pkg/config, pkg/logging, pkg/errors, pkg/observability: ambient
//     configuration, logging, error payloads and metrics
//   - pkg/app: wiring and lifecycle for a whole server process
//
// # Running a Server
//
//	import (
//	    "context"
//	    "os"
//	    "os/signal"
//
//	    mcp "github.com/ajitpratap0/transcript-mcp"
//	    _ "github.com/ajitpratap0/transcript-mcp/pkg/transport/streamable"
//	)
//
//	func main() {
//	    cfg, err := mcp.BuildConfig(mcp.WithPort(3000), mcp.WithMaxClients(50))
//	    if err != nil {
//	        // Handle error
//	    }
//	    srv, err := mcp.NewServer(cfg)
//	    if err != nil {
//	        // Handle error
//	    }
//	    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	    defer stop()
//	    _ = srv.Run(ctx)
//	}
//
// # Sessions
//
// A GET on /mcp without a session id opens a stream session; its first event
// names the URL to POST messages to. A POST of an initialize request without
// a session id opens a request-response session whose id comes back in the
// Mcp-Session-Id header. Both kinds count against one max_clients limit.
//
// # Embedding the Handler
//
// NewServer's Handler can be mounted in an existing mux instead of calling
// Run:
//
//	mux.Handle(mcp.Endpoint, srv.Handler())
package mcp
