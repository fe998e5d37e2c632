// Package protocol defines the JSON-RPC 2.0 envelope and the subset of MCP
// messages served here: initialize, ping, tools/list, tools/call and the
// notifications a client may send.
//
// # Message Flow
//
// A client opens a session with initialize, may list tools, and calls the
// transcript tool with tools/call. Requests carry an id and get exactly one
// response; notifications carry no id and never get one.
package protocol
