package session

import (
	"sync"
	"time"

	mcperrors "github.com/ajitpratap0/transcript-mcp/pkg/errors"
	"github.com/ajitpratap0/transcript-mcp/pkg/logging"
)

// HeartbeatFrame is the payload of a heartbeat event.
type HeartbeatFrame struct {
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
}

type heartbeat struct {
	done chan struct{}
	once sync.Once
}

func newHeartbeat() *heartbeat {
	return &heartbeat{done: make(chan struct{})}
}

// stop never blocks, so it is safe from inside the heartbeat goroutine.
func (h *heartbeat) stop() {
	h.once.Do(func() { close(h.done) })
}

func (r *Registry) runHeartbeat(entry *Entry, hb *heartbeat) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hb.done:
			return
		case <-ticker.C:
			if !r.beat(entry) {
				return
			}
		}
	}
}

// beat runs one heartbeat tick and reports whether the session is still
// alive afterwards.
func (r *Registry) beat(entry *Entry) bool {
	log := r.logger.WithFields(
		logging.String("session_id", entry.id),
		logging.String("transport", string(entry.kind)),
	)

	if entry.stream.Closed() {
		r.Evict(entry.id, ReasonDisconnect)
		return false
	}

	now := r.now()
	if err := entry.stream.Send(EventHeartbeat, HeartbeatFrame{
		SessionID: entry.id,
		Timestamp: now.UnixMilli(),
	}); err != nil {
		log.WithError(err).Debug("Heartbeat write failed")
		r.Evict(entry.id, ReasonDisconnect)
		return false
	}
	r.observer.HeartbeatSent()

	last, ok := entry.LastActivity()
	if !ok || now.Sub(last) <= r.inactivityTimeout {
		return true
	}

	log.Info("Session timed out", logging.Duration("idle", now.Sub(last)))
	if err := entry.stream.Send(EventError, mcperrors.Timeout(entry.id).ToJSON()); err != nil {
		log.WithError(err).Debug("Timeout frame write failed")
	}
	r.Evict(entry.id, ReasonTimeout)
	return false
}
