package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ajitpratap0/transcript-mcp/pkg/protocol"
)

// ErrUnavailable means no request-response transport is compiled in.
var ErrUnavailable = errors.New("transport: request-response transport unavailable")

// Notifier delivers a server notification to the session's client.
type Notifier func(*protocol.Notification)

// Dispatcher executes one JSON-RPC message for a session. It returns nil for
// messages that get no response.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID string, msg *protocol.Message, notify Notifier) *protocol.Response
}

// StatelessSession is the handle of a request-response session.
type StatelessSession interface {
	SessionID() string
	// HandleMessage runs msg and returns its response, or nil when there is
	// nothing to return inline.
	HandleMessage(ctx context.Context, msg *protocol.Message) (*protocol.Response, error)
	// Poll drains notifications queued for the client.
	Poll(ctx context.Context) ([]*protocol.Notification, error)
	// Terminate ends the session at the client's request.
	Terminate(ctx context.Context) error
	Close() error
}

// Factory creates request-response sessions.
type Factory interface {
	Name() string
	NewSession(d Dispatcher) (StatelessSession, error)
}

// preferred lists factory names in the order they are tried.
var preferred = []string{"streamable-http"}

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a factory available to the probe. It is meant to be called
// from an init function and panics on nil or duplicate registration.
func Register(f Factory) {
	if f == nil {
		panic("transport: Register factory is nil")
	}
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[f.Name()]; dup {
		panic("transport: Register called twice for " + f.Name())
	}
	factories[f.Name()] = f
}

// Lookup returns the preferred registered factory, or ErrUnavailable when
// none is registered.
func Lookup() (Factory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	for _, name := range preferred {
		if f, ok := factories[name]; ok {
			return f, nil
		}
	}
	if len(factories) == 0 {
		return nil, ErrUnavailable
	}
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return factories[names[0]], nil
}

// Probe memoizes the result of looking up the optional transport. The first
// call runs the lookup; every later call, concurrent or not, gets the same
// answer.
type Probe struct {
	once    sync.Once
	lookup  func() (Factory, error)
	factory Factory
	err     error
}

// NewProbe returns a probe over lookup; nil means Lookup.
func NewProbe(lookup func() (Factory, error)) *Probe {
	if lookup == nil {
		lookup = Lookup
	}
	return &Probe{lookup: lookup}
}

// Optional returns the factory, ErrUnavailable when it is absent, or the
// lookup's unexpected error.
func (p *Probe) Optional() (Factory, error) {
	p.once.Do(func() {
		defer func() {
			if rec := recover(); rec != nil {
				p.factory, p.err = nil, fmt.Errorf("transport: probe panicked: %v", rec)
			}
		}()
		p.factory, p.err = p.lookup()
		if p.err == nil && p.factory == nil {
			p.err = ErrUnavailable
		}
	})
	return p.factory, p.err
}

var defaultProbe = NewProbe(nil)

// ProbeOptionalTransport consults the process-wide probe.
func ProbeOptionalTransport() (Factory, error) {
	return defaultProbe.Optional()
}
