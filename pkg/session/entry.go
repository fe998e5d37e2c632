// Package session tracks live client sessions for both transports. The
// Registry is the single source of truth for which sessions exist; it admits
// new sessions up to a limit, runs a heartbeat for every stream session and
// evicts sessions that stay idle past the inactivity timeout.
package session

import (
	"sync/atomic"
	"time"
)

// Kind discriminates the two session variants.
type Kind string

const (
	// KindStream sessions hold a long-lived event stream to the client.
	KindStream Kind = "stream"
	// KindRequestResponse sessions are served by the optional streamable
	// transport, one HTTP exchange at a time.
	KindRequestResponse Kind = "request-response"
)

// Stream frame event names.
const (
	EventEndpoint  = "endpoint"
	EventHeartbeat = "heartbeat"
	EventMessage   = "message"
	EventError     = "error"
)

// Handle is the transport-side half of a session. Close must be safe to call
// more than once.
type Handle interface {
	Close() error
}

// StreamChannel is the outbound channel of a stream session.
type StreamChannel interface {
	Handle
	// Send queues one frame. It fails once the channel is closed.
	Send(event string, payload interface{}) error
	// Closed reports whether the client side has gone away or Close was
	// called.
	Closed() bool
}

// Identified is implemented by handles whose transport assigns the session
// id itself.
type Identified interface {
	SessionID() string
}

// Entry is one live session.
type Entry struct {
	id        string
	kind      Kind
	handle    Handle
	stream    StreamChannel
	createdAt time.Time

	// Unix nanoseconds of the last completed or started unit of work; 0
	// until the first one.
	lastActivity atomic.Int64
}

func (e *Entry) ID() string {
	return e.id
}

func (e *Entry) Kind() Kind {
	return e.kind
}

// Handle returns the transport handle the session was created with.
func (e *Entry) Handle() Handle {
	return e.handle
}

// Stream returns the outbound channel of a stream session.
func (e *Entry) Stream() (StreamChannel, bool) {
	return e.stream, e.stream != nil
}

func (e *Entry) CreatedAt() time.Time {
	return e.createdAt
}

// LastActivity returns the time of the last recorded unit of work. ok is
// false until the session has done any work.
func (e *Entry) LastActivity() (t time.Time, ok bool) {
	ns := e.lastActivity.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// touch never moves lastActivity backwards.
func (e *Entry) touch(now time.Time) {
	ns := now.UnixNano()
	for {
		cur := e.lastActivity.Load()
		if cur >= ns {
			return
		}
		if e.lastActivity.CompareAndSwap(cur, ns) {
			return
		}
	}
}
