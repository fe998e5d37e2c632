//go:build !nostreamable

package streamable

import "github.com/ajitpratap0/transcript-mcp/pkg/transport"

func init() {
	transport.Register(Factory{})
}
