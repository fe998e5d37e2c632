// Package transport carries MCP messages between sessions and the
// dispatcher.
//
// Two session kinds are supported:
//
// Stream sessions:
//   - A Stream queues Server-Sent Event frames (endpoint, message,
//     heartbeat, error) and writes them to one HTTP response in order
//   - Frames queued before Close are still written; Serve returns when the
//     client disconnects or the stream closes
//   - Send never blocks; a consumer that falls too far behind gets
//     ErrSlowConsumer
//
// Request-response sessions:
//   - Provided by an optional Factory registered at init time, normally by
//     importing pkg/transport/streamable
//   - A Probe looks the factory up once; when none is registered it reports
//     ErrUnavailable and the server answers initialize with 501
//
// # Usage
//
//	import _ "github.com/ajitpratap0/transcript-mcp/pkg/transport/streamable"
//
//	factory, err := transport.ProbeOptionalTransport()
//	if errors.Is(err, transport.ErrUnavailable) {
//	    // only stream sessions can be served
//	}
//	sess, err := factory.NewSession(dispatcher)
package transport
