package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/transcript-mcp/pkg/protocol"
)

type stubFactory struct{ name string }

func (f stubFactory) Name() string { return f.name }

func (f stubFactory) NewSession(Dispatcher) (StatelessSession, error) {
	return nil, errors.New("not implemented")
}

func TestProbeIsMemoized(t *testing.T) {
	var calls atomic.Int32
	p := NewProbe(func() (Factory, error) {
		calls.Add(1)
		return stubFactory{name: "stub"}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := p.Optional()
			assert.NoError(t, err)
			assert.Equal(t, "stub", f.Name())
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
}

func TestProbeMemoizesAbsence(t *testing.T) {
	var calls atomic.Int32
	p := NewProbe(func() (Factory, error) {
		calls.Add(1)
		return nil, ErrUnavailable
	})

	for i := 0; i < 3; i++ {
		f, err := p.Optional()
		assert.Nil(t, f)
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestProbePropagatesUnexpectedErrors(t *testing.T) {
	boom := errors.New("loader exploded")
	p := NewProbe(func() (Factory, error) { return nil, boom })

	_, err := p.Optional()
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, ErrUnavailable))

	panicking := NewProbe(func() (Factory, error) { panic("bad init") })
	_, err = panicking.Optional()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad init")
}

func TestProbeTreatsNilFactoryAsAbsent(t *testing.T) {
	p := NewProbe(func() (Factory, error) { return nil, nil })
	_, err := p.Optional()
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRegisterAndLookup(t *testing.T) {
	factoriesMu.Lock()
	saved := factories
	factories = make(map[string]Factory)
	factoriesMu.Unlock()
	t.Cleanup(func() {
		factoriesMu.Lock()
		factories = saved
		factoriesMu.Unlock()
	})

	_, err := Lookup()
	assert.ErrorIs(t, err, ErrUnavailable)

	Register(stubFactory{name: "zeta"})
	Register(stubFactory{name: "alpha"})
	f, err := Lookup()
	require.NoError(t, err)
	assert.Equal(t, "alpha", f.Name())

	Register(stubFactory{name: "streamable-http"})
	f, err = Lookup()
	require.NoError(t, err)
	assert.Equal(t, "streamable-http", f.Name(), "preferred transport wins")

	assert.Panics(t, func() { Register(stubFactory{name: "alpha"}) })
	assert.Panics(t, func() { Register(nil) })
}

// Compile-time check that the notifier type fits a plain func.
var _ Notifier = func(*protocol.Notification) {}
