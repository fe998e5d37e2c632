// Command transcript-mcp serves YouTube transcripts to MCP clients over HTTP.
package main

import (
	"github.com/ajitpratap0/transcript-mcp/cmd/transcript-mcp/cmd"

	// Request-response sessions need the streamable transport.
	_ "github.com/ajitpratap0/transcript-mcp/pkg/transport/streamable"
)

func main() {
	cmd.Execute()
}
