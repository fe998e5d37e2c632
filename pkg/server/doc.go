// Package server exposes the MCP HTTP surface.
//
// A single canonical endpoint, /mcp, serves two session kinds:
//
//   - GET /mcp without a session id opens a stream session. The first SSE
//     frame is an "endpoint" event naming the URL to POST messages to.
//     Responses to those messages arrive as "message" events; "heartbeat"
//     events keep the connection alive and an "error" event precedes an
//     inactivity eviction.
//
//   - POST /mcp with an initialize request and no session id opens a
//     request-response session when the streamable transport is compiled in.
//     Later POSTs carry the Mcp-Session-Id header and are answered inline;
//     GET polls queued notifications and DELETE ends the session.
//
// The retired paths /mcp/events and /mcp/messages answer 404 with a
// migration payload.
//
// Example:
//
//	registry := session.NewRegistry(cfg)
//	tools := server.NewBaseToolsProvider()
//	tools.RegisterTool(server.TranscriptTool(), server.TranscriptHandler(transcript.NewYouTube()))
//	router := server.NewRouter(cfg, registry, server.NewDispatcher(server.WithToolsProvider(tools)))
//	http.ListenAndServe(cfg.Addr(), router)
package server
