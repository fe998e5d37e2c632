// Package streamable implements the request-response transport: each client
// message is one HTTP exchange answered inline, and server notifications wait
// in a per-session outbox until the client polls for them.
//
// The package registers itself with the transport probe unless the binary is
// built with the nostreamable tag.
package streamable

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/ajitpratap0/transcript-mcp/pkg/protocol"
	"github.com/ajitpratap0/transcript-mcp/pkg/session"
	"github.com/ajitpratap0/transcript-mcp/pkg/transport"
)

// Name is the registered factory name.
const Name = "streamable-http"

// DefaultOutboxLimit caps notifications held for a client that never polls.
// The oldest are dropped first.
const DefaultOutboxLimit = 100

// Factory creates streamable sessions.
type Factory struct {
	OutboxLimit int
	NewID       func() string
}

func (Factory) Name() string {
	return Name
}

// NewSession creates a session bound to d with a fresh id.
func (f Factory) NewSession(d transport.Dispatcher) (transport.StatelessSession, error) {
	if d == nil {
		return nil, errors.New("streamable: dispatcher is required")
	}
	newID := f.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	limit := f.OutboxLimit
	if limit <= 0 {
		limit = DefaultOutboxLimit
	}
	return &Session{
		id:         newID(),
		dispatcher: d,
		outbox:     queue.New(),
		limit:      limit,
	}, nil
}

// Session is one request-response session.
type Session struct {
	id         string
	dispatcher transport.Dispatcher

	mu     sync.Mutex
	outbox *queue.Queue
	limit  int
	closed bool
}

func (s *Session) SessionID() string {
	return s.id
}

// HandleMessage dispatches msg and returns the response to send inline. Nil
// means the message gets no response body.
func (s *Session) HandleMessage(ctx context.Context, msg *protocol.Message) (*protocol.Response, error) {
	if s.isClosed() {
		return nil, session.ErrClosed
	}
	return s.dispatcher.Dispatch(ctx, s.id, msg, s.enqueue), nil
}

// Poll returns and clears the queued notifications.
func (s *Session) Poll(ctx context.Context) ([]*protocol.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, session.ErrClosed
	}
	out := make([]*protocol.Notification, 0, s.outbox.Length())
	for s.outbox.Length() > 0 {
		out = append(out, s.outbox.Remove().(*protocol.Notification))
	}
	return out, nil
}

// Terminate closes the session; queued notifications are discarded.
func (s *Session) Terminate(ctx context.Context) error {
	if s.isClosed() {
		return session.ErrClosed
	}
	return s.Close()
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for s.outbox.Length() > 0 {
		s.outbox.Remove()
	}
	return nil
}

func (s *Session) enqueue(n *protocol.Notification) {
	if n == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.outbox.Length() >= s.limit {
		s.outbox.Remove()
	}
	s.outbox.Add(n)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
