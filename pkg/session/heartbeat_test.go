package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/transcript-mcp/pkg/config"
)

func fastConfig(t *testing.T) config.Config {
	return testConfig(t,
		config.WithHeartbeatInterval(5*time.Millisecond),
		config.WithInactivityTimeout(10*time.Millisecond),
	)
}

func TestHeartbeatKeepsUntouchedSessionAlive(t *testing.T) {
	r := NewRegistry(fastConfig(t))
	defer r.CloseAll()

	s := &fakeStream{}
	e, err := r.Create(KindStream, s)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.count(EventHeartbeat) >= 5 }, time.Second, time.Millisecond)

	_, ok := r.Get(e.ID())
	assert.True(t, ok, "a session with no recorded activity is never timed out")
	assert.Zero(t, s.count(EventError))
}

func TestHeartbeatEvictsIdleSession(t *testing.T) {
	obs := newCountingObserver()
	r := NewRegistry(fastConfig(t), WithObserver(obs))
	defer r.CloseAll()

	s := &fakeStream{}
	e, err := r.Create(KindStream, s)
	require.NoError(t, err)

	// One completed unit of work, then silence.
	require.True(t, r.Touch(e.ID()))

	require.Eventually(t, func() bool {
		_, ok := r.Get(e.ID())
		return !ok
	}, time.Second, time.Millisecond)

	assert.Equal(t, 1, s.count(EventError))
	assert.Equal(t, 1, s.closeCount())
	assert.Equal(t, 1, obs.removedFor(ReasonTimeout))

	s.mu.Lock()
	last := s.frames[len(s.frames)-1]
	s.mu.Unlock()
	require.Equal(t, EventError, last.event)
	payload, ok := last.payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "timeout", payload["code"])
	assert.Equal(t, e.ID(), payload["sessionId"])
	assert.NotEmpty(t, payload["message"])
}

func TestHeartbeatRemovesClosedStream(t *testing.T) {
	obs := newCountingObserver()
	r := NewRegistry(fastConfig(t), WithObserver(obs))
	defer r.CloseAll()

	s := &fakeStream{}
	e, err := r.Create(KindStream, s)
	require.NoError(t, err)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	require.Eventually(t, func() bool {
		_, ok := r.Get(e.ID())
		return !ok
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, obs.removedFor(ReasonDisconnect))
}

func TestHeartbeatFramePayload(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(fastConfig(t), WithClock(clock.Now))
	defer r.CloseAll()

	s := &fakeStream{}
	e, err := r.Create(KindStream, s)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.count(EventHeartbeat) >= 1 }, time.Second, time.Millisecond)

	s.mu.Lock()
	hb, ok := s.frames[0].payload.(HeartbeatFrame)
	s.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, e.ID(), hb.SessionID)
	assert.Equal(t, clock.Now().UnixMilli(), hb.Timestamp)
}

func TestRemoveFromOutsideStopsHeartbeat(t *testing.T) {
	r := NewRegistry(fastConfig(t))

	s := &fakeStream{}
	e, err := r.Create(KindStream, s)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.count(EventHeartbeat) >= 1 }, time.Second, time.Millisecond)

	require.True(t, r.Remove(e.ID()))
	beats := s.count(EventHeartbeat)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, beats, s.count(EventHeartbeat), "no heartbeats after removal")
	// goleak in TestMain verifies the ticker goroutine is gone.
}
