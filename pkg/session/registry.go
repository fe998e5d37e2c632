package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/transcript-mcp/pkg/config"
	"github.com/ajitpratap0/transcript-mcp/pkg/logging"
)

var (
	// ErrAtCapacity is returned by Create when the admission limit is reached.
	ErrAtCapacity = errors.New("session: admission limit reached")
	// ErrNotFound is returned for ids with no live session.
	ErrNotFound = errors.New("session: not found")
	// ErrClosed is returned by handles used after they were closed.
	ErrClosed = errors.New("session: closed")
	// ErrInvalidHandle is returned when a stream session is created without
	// a StreamChannel.
	ErrInvalidHandle = errors.New("session: stream sessions require a stream channel")
	// ErrDuplicateID is returned when a transport-assigned id is already live.
	ErrDuplicateID = errors.New("session: duplicate id")
)

// RemoveReason records why a session left the registry.
type RemoveReason string

const (
	ReasonClosed     RemoveReason = "closed"
	ReasonDisconnect RemoveReason = "disconnect"
	ReasonTerminated RemoveReason = "terminated"
	ReasonTimeout    RemoveReason = "timeout"
	ReasonExpired    RemoveReason = "expired"
	ReasonShutdown   RemoveReason = "shutdown"
)

// Observer receives registry lifecycle events, typically for metrics.
type Observer interface {
	SessionCreated(kind Kind)
	SessionRemoved(kind Kind, reason RemoveReason)
	HeartbeatSent()
}

// Registry owns every live session. One mutex guards the entry and heartbeat
// maps; it is never held while calling into a transport.
type Registry struct {
	maxClients        int
	heartbeatInterval time.Duration
	inactivityTimeout time.Duration

	mu         sync.Mutex
	entries    map[string]*Entry
	heartbeats map[string]*heartbeat

	now      func() time.Time
	newID    func() string
	logger   logging.Logger
	observer Observer
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the wall clock used for createdAt, lastActivity and
// timeout checks.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithIDGenerator replaces the UUID generator used for ids the transport does
// not assign.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// NewRegistry creates a registry using the admission limit, heartbeat
// interval and inactivity timeout from cfg.
func NewRegistry(cfg config.Config, opts ...Option) *Registry {
	r := &Registry{
		maxClients:        cfg.MaxClients,
		heartbeatInterval: cfg.HeartbeatInterval,
		inactivityTimeout: cfg.InactivityTimeout,
		entries:           make(map[string]*Entry),
		heartbeats:        make(map[string]*heartbeat),
		now:               time.Now,
		newID:             uuid.NewString,
		logger:            logging.Nop(),
		observer:          noopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithFields(logging.String("component", "session"))
	return r
}

// IsAtCapacity reports whether a new session would exceed the admission
// limit.
func (r *Registry) IsAtCapacity() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries) >= r.maxClients
}

// MaxClients returns the admission limit.
func (r *Registry) MaxClients() int {
	return r.maxClients
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Create admits a new session. The capacity check and the insert happen
// under one lock, so concurrent creates can never exceed the limit. Stream
// sessions start their heartbeat immediately.
func (r *Registry) Create(kind Kind, handle Handle) (*Entry, error) {
	entry := &Entry{
		kind:      kind,
		handle:    handle,
		createdAt: r.now(),
	}

	switch kind {
	case KindStream:
		stream, ok := handle.(StreamChannel)
		if !ok {
			return nil, ErrInvalidHandle
		}
		entry.stream = stream
	case KindRequestResponse:
	default:
		return nil, fmt.Errorf("session: unknown kind %q", kind)
	}

	if ident, ok := handle.(Identified); ok {
		entry.id = ident.SessionID()
	}
	if entry.id == "" {
		entry.id = r.newID()
	}

	var hb *heartbeat
	r.mu.Lock()
	if len(r.entries) >= r.maxClients {
		r.mu.Unlock()
		return nil, ErrAtCapacity
	}
	if _, exists := r.entries[entry.id]; exists {
		r.mu.Unlock()
		return nil, ErrDuplicateID
	}
	r.entries[entry.id] = entry
	if kind == KindStream {
		hb = newHeartbeat()
		r.heartbeats[entry.id] = hb
	}
	r.mu.Unlock()

	if hb != nil {
		go r.runHeartbeat(entry, hb)
	}

	r.observer.SessionCreated(kind)
	r.logger.Debug("Session created",
		logging.String("session_id", entry.id),
		logging.String("transport", string(kind)),
	)
	return entry, nil
}

// Get returns the live session with the given id.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Touch records activity on a session. It reports false for unknown ids.
func (r *Registry) Touch(id string) bool {
	e, ok := r.Get(id)
	if !ok {
		return false
	}
	e.touch(r.now())
	return true
}

// Remove stops a session's heartbeat, drops it from the registry and closes
// its handle. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) bool {
	return r.Evict(id, ReasonClosed)
}

// Evict is Remove with an explicit reason for logs and metrics.
func (r *Registry) Evict(id string, reason RemoveReason) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if hb, ok := r.heartbeats[id]; ok {
		hb.stop()
		delete(r.heartbeats, id)
	}
	delete(r.entries, id)
	r.mu.Unlock()

	r.closeHandle(entry)
	r.observer.SessionRemoved(entry.kind, reason)
	r.logger.Debug("Session removed",
		logging.String("session_id", id),
		logging.String("transport", string(entry.kind)),
		logging.String("reason", string(reason)),
	)
	return true
}

// SweepExpired removes every session older than window, measured from
// creation, and returns their ids.
func (r *Registry) SweepExpired(window time.Duration) []string {
	now := r.now()

	r.mu.Lock()
	var expired []string
	for id, e := range r.entries {
		if now.Sub(e.createdAt) > window {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	removed := expired[:0]
	for _, id := range expired {
		if r.Evict(id, ReasonExpired) {
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		r.logger.Info("Expired sessions swept", logging.Int("count", len(removed)))
	}
	return removed
}

// CloseAll removes every session. Calling it again is a no-op.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Evict(id, ReasonShutdown)
	}
}

// closeHandle closes the transport handle, logging failures and panics.
func (r *Registry) closeHandle(entry *Entry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Transport close panicked",
				logging.String("session_id", entry.id),
				logging.Any("panic", rec),
			)
		}
	}()
	if entry.handle == nil {
		return
	}
	if err := entry.handle.Close(); err != nil && !errors.Is(err, ErrClosed) {
		r.logger.WithError(err).Warn("Failed to close transport",
			logging.String("session_id", entry.id),
			logging.String("transport", string(entry.kind)),
		)
	}
}

type noopObserver struct{}

func (noopObserver) SessionCreated(Kind)               {}
func (noopObserver) SessionRemoved(Kind, RemoveReason) {}
func (noopObserver) HeartbeatSent()                    {}
