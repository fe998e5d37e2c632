package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ajitpratap0/transcript-mcp/pkg/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type frame struct {
	event   string
	payload interface{}
}

type fakeStream struct {
	mu       sync.Mutex
	frames   []frame
	closed   bool
	closes   int
	closeErr error
	panics   bool
}

func (s *fakeStream) Send(event string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.frames = append(s.frames, frame{event: event, payload: payload})
	return nil
}

func (s *fakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.closes++
	err, panics := s.closeErr, s.panics
	s.mu.Unlock()
	if panics {
		panic("close exploded")
	}
	return err
}

func (s *fakeStream) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		if f.event == event {
			n++
		}
	}
	return n
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeHandle struct {
	id     string
	closes atomic.Int32
}

func (h *fakeHandle) SessionID() string { return h.id }

func (h *fakeHandle) Close() error {
	h.closes.Add(1)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(t *testing.T, opts ...config.Option) config.Config {
	t.Helper()
	cfg, err := config.Build(opts...)
	require.NoError(t, err)
	return cfg
}

func TestCreateEnforcesAdmissionLimit(t *testing.T) {
	r := NewRegistry(testConfig(t, config.WithMaxClients(2)))
	defer r.CloseAll()

	first, err := r.Create(KindRequestResponse, &fakeHandle{})
	require.NoError(t, err)
	_, err = r.Create(KindRequestResponse, &fakeHandle{})
	require.NoError(t, err)

	assert.True(t, r.IsAtCapacity())
	_, err = r.Create(KindStream, &fakeStream{})
	assert.ErrorIs(t, err, ErrAtCapacity)
	assert.Equal(t, 2, r.Count())

	// Existing sessions stay reachable at capacity.
	got, ok := r.Get(first.ID())
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.True(t, r.Touch(first.ID()))

	r.Remove(first.ID())
	assert.False(t, r.IsAtCapacity())
}

func TestConcurrentCreateNeverExceedsLimit(t *testing.T) {
	const limit = 10
	r := NewRegistry(testConfig(t, config.WithMaxClients(limit)))
	defer r.CloseAll()

	var wg sync.WaitGroup
	var admitted, rejected atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create(KindRequestResponse, &fakeHandle{})
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, ErrAtCapacity):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, limit, admitted.Load())
	assert.EqualValues(t, 40, rejected.Load())
	assert.Equal(t, limit, r.Count())
}

func TestCreateUsesTransportID(t *testing.T) {
	r := NewRegistry(testConfig(t))
	defer r.CloseAll()

	e, err := r.Create(KindRequestResponse, &fakeHandle{id: "from-transport"})
	require.NoError(t, err)
	assert.Equal(t, "from-transport", e.ID())

	_, err = r.Create(KindRequestResponse, &fakeHandle{id: "from-transport"})
	assert.ErrorIs(t, err, ErrDuplicateID)

	generated, err := r.Create(KindRequestResponse, &fakeHandle{})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID())
	assert.NotEqual(t, e.ID(), generated.ID())
}

func TestCreateValidatesKind(t *testing.T) {
	r := NewRegistry(testConfig(t))

	_, err := r.Create(KindStream, &fakeHandle{})
	assert.ErrorIs(t, err, ErrInvalidHandle)

	_, err = r.Create(Kind("carrier-pigeon"), &fakeHandle{})
	assert.Error(t, err)
	assert.Zero(t, r.Count())
}

func TestEntryAccessors(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(testConfig(t), WithClock(clock.Now), WithIDGenerator(func() string { return "fixed" }))
	defer r.CloseAll()

	s := &fakeStream{}
	e, err := r.Create(KindStream, s)
	require.NoError(t, err)

	assert.Equal(t, "fixed", e.ID())
	assert.Equal(t, KindStream, e.Kind())
	assert.Equal(t, clock.Now(), e.CreatedAt())
	assert.Same(t, s, e.Handle())

	ch, ok := e.Stream()
	require.True(t, ok)
	assert.Same(t, s, ch)

	_, ok = e.LastActivity()
	assert.False(t, ok, "connection establishment is not activity")
}

func TestTouchIsMonotonic(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(testConfig(t), WithClock(clock.Now))
	defer r.CloseAll()

	e, err := r.Create(KindRequestResponse, &fakeHandle{})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	require.True(t, r.Touch(e.ID()))
	later := clock.Now()

	e.touch(later.Add(-time.Hour))
	got, ok := e.LastActivity()
	require.True(t, ok)
	assert.True(t, got.Equal(later))

	assert.False(t, r.Touch("missing"))
}

func TestRemoveClosesHandleOnce(t *testing.T) {
	r := NewRegistry(testConfig(t))

	h := &fakeHandle{}
	e, err := r.Create(KindRequestResponse, h)
	require.NoError(t, err)

	assert.True(t, r.Remove(e.ID()))
	assert.False(t, r.Remove(e.ID()))
	assert.False(t, r.Remove("never-existed"))
	assert.EqualValues(t, 1, h.closes.Load())

	_, ok := r.Get(e.ID())
	assert.False(t, ok)
}

func TestRemoveSwallowsCloseFailures(t *testing.T) {
	r := NewRegistry(testConfig(t))

	failing := &fakeStream{closeErr: fmt.Errorf("broken pipe")}
	panicking := &fakeStream{panics: true}

	a, err := r.Create(KindStream, failing)
	require.NoError(t, err)
	b, err := r.Create(KindStream, panicking)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		assert.True(t, r.Remove(a.ID()))
		assert.True(t, r.Remove(b.ID()))
	})
	assert.Zero(t, r.Count())
}

func TestSweepExpired(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(testConfig(t), WithClock(clock.Now))
	defer r.CloseAll()

	old, err := r.Create(KindRequestResponse, &fakeHandle{})
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	fresh, err := r.Create(KindStream, &fakeStream{})
	require.NoError(t, err)

	// Activity does not protect a session from the age sweep.
	require.True(t, r.Touch(old.ID()))

	clock.Advance(31 * time.Minute)
	removed := r.SweepExpired(time.Hour)

	assert.Equal(t, []string{old.ID()}, removed)
	_, ok := r.Get(old.ID())
	assert.False(t, ok)
	_, ok = r.Get(fresh.ID())
	assert.True(t, ok)

	assert.Empty(t, r.SweepExpired(time.Hour))
}

func TestCloseAllIsIdempotent(t *testing.T) {
	r := NewRegistry(testConfig(t))

	streams := []*fakeStream{{}, {}, {}}
	for _, s := range streams {
		_, err := r.Create(KindStream, s)
		require.NoError(t, err)
	}
	h := &fakeHandle{}
	_, err := r.Create(KindRequestResponse, h)
	require.NoError(t, err)

	r.CloseAll()
	r.CloseAll()

	assert.Zero(t, r.Count())
	for _, s := range streams {
		assert.Equal(t, 1, s.closeCount())
	}
	assert.EqualValues(t, 1, h.closes.Load())
}

type countingObserver struct {
	mu      sync.Mutex
	created map[Kind]int
	removed map[RemoveReason]int
	beats   int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{created: map[Kind]int{}, removed: map[RemoveReason]int{}}
}

func (o *countingObserver) SessionCreated(k Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created[k]++
}

func (o *countingObserver) SessionRemoved(_ Kind, reason RemoveReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed[reason]++
}

func (o *countingObserver) HeartbeatSent() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.beats++
}

func (o *countingObserver) removedFor(reason RemoveReason) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.removed[reason]
}

func TestObserverSeesLifecycle(t *testing.T) {
	obs := newCountingObserver()
	r := NewRegistry(testConfig(t), WithObserver(obs))

	e, err := r.Create(KindRequestResponse, &fakeHandle{})
	require.NoError(t, err)
	r.Evict(e.ID(), ReasonTerminated)
	_, err = r.Create(KindStream, &fakeStream{})
	require.NoError(t, err)
	r.CloseAll()

	assert.Equal(t, 1, obs.created[KindRequestResponse])
	assert.Equal(t, 1, obs.created[KindStream])
	assert.Equal(t, 1, obs.removedFor(ReasonTerminated))
	assert.Equal(t, 1, obs.removedFor(ReasonShutdown))
}
