package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/eapache/queue"
	"github.com/tmaxmax/go-sse"

	"github.com/ajitpratap0/transcript-mcp/pkg/session"
)

// DefaultMaxQueuedFrames bounds a stream's outbox. A client that falls this
// far behind is treated as gone.
const DefaultMaxQueuedFrames = 256

// ErrSlowConsumer is returned by Send when the outbox is full.
var ErrSlowConsumer = errors.New("transport: stream outbox full")

// Stream is the outbound half of a stream session. Producers queue frames
// with Send from any goroutine; a single writer loop started with Serve
// drains them to the client as server-sent events.
type Stream struct {
	mu        sync.Mutex
	frames    *queue.Queue
	maxFrames int
	nextID    uint64
	closed    bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewStream returns an open stream with an empty outbox.
func NewStream() *Stream {
	return &Stream{
		frames:    queue.New(),
		maxFrames: DefaultMaxQueuedFrames,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Send queues one event. String payloads are sent verbatim; anything else is
// encoded as JSON.
func (s *Stream) Send(event string, payload interface{}) error {
	var data string
	switch p := payload.(type) {
	case string:
		data = p
	case []byte:
		data = string(p)
	case json.RawMessage:
		data = string(p)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s frame: %w", event, err)
		}
		data = string(b)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return session.ErrClosed
	}
	if s.frames.Length() >= s.maxFrames {
		s.mu.Unlock()
		return ErrSlowConsumer
	}
	s.nextID++
	msg := &sse.Message{
		ID:   sse.ID(strconv.FormatUint(s.nextID, 10)),
		Type: sse.Type(event),
	}
	msg.AppendData(data)
	s.frames.Add(msg)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close marks the stream closed. Frames already queued are still written by
// the writer loop before it returns.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed when the stream is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Queued returns the number of frames waiting for the writer loop.
func (s *Stream) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames.Length()
}

// Serve writes queued frames to sess until ctx is cancelled (the client went
// away), the stream is closed, or a write fails. The stream is always closed
// when Serve returns.
func (s *Stream) Serve(ctx context.Context, sess *sse.Session) error {
	defer s.Close()

	if err := sess.Flush(); err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}

	for {
		if err := s.drain(sess); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return s.drain(sess)
		case <-s.wake:
		}
	}
}

func (s *Stream) drain(sess *sse.Session) error {
	s.mu.Lock()
	n := s.frames.Length()
	if n == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := make([]*sse.Message, 0, n)
	for s.frames.Length() > 0 {
		batch = append(batch, s.frames.Remove().(*sse.Message))
	}
	s.mu.Unlock()

	for _, msg := range batch {
		if err := sess.Send(msg); err != nil {
			return fmt.Errorf("write %s frame: %w", msg.Type, err)
		}
	}
	if err := sess.Flush(); err != nil {
		return fmt.Errorf("flush event stream: %w", err)
	}
	return nil
}
