// Package session keeps track of connected clients and delivers events to them.
//
// Broadcasts are at-most-once: every session owns a bounded outbound queue and a
// broadcast for a session whose queue is full is dropped, never retried. Sessions
// that connect later catch up through the registry snapshot sent on connect.
// Replies to a request wait for queue space instead; a session that cannot take
// its reply in time is closed.
package session

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event names of the client protocol
const (
	EventCheckURL           = "checkUrl"
	EventURLResult          = "urlResult"
	EventSubmitReport       = "submitReport"
	EventReportResult       = "reportResult"
	EventGetReportStatus    = "getReportStatus"
	EventReportStatusResult = "reportStatusResult"
	EventReportUUIDs        = "reportUUIDs"
	EventError              = "error"
)

// DefaultQueueSize is the outbound queue length of a session
const DefaultQueueSize = 64

var (
	// ErrSessionClosed is returned when replying to a closed session
	ErrSessionClosed = errors.New("session closed")
	// ErrReplyTimeout is returned when a reply could not be queued in time
	ErrReplyTimeout = errors.New("reply not queued in time, session closed")
)

// Envelope is one outbound event
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Inbound is one event received from a client; Data is decoded per event
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Session is one connected client
type Session struct {
	ID string

	send      chan Envelope
	done      chan struct{}
	closeOnce sync.Once
	dropped   *atomic.Int64
}

// Send queues ev for delivery without blocking. It returns false when the
// session is closed or its queue is full.
func (s *Session) Send(ev Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Reply queues the response to a request made by this session. It waits up to
// timeout for queue space and closes the session when none frees up, so a
// response is never silently lost.
func (s *Session) Reply(ev Envelope, timeout time.Duration) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- ev:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.send <- ev:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-timer.C:
		s.Close()
		return ErrReplyTimeout
	}
}

// Outbound returns the queue the transport drains
func (s *Session) Outbound() <-chan Envelope {
	return s.send
}

// Done is closed once the session is closed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close marks the session closed; further sends are refused
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub is the registry of connected sessions
type Hub struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	queueSize int
	dropped   atomic.Int64
	log       logrus.FieldLogger
}

// NewHub creates a hub whose sessions queue up to queueSize outbound events
func NewHub(queueSize int, logger logrus.FieldLogger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Hub{
		sessions:  make(map[string]*Session),
		queueSize: queueSize,
		log:       logger,
	}
}

// Register creates and tracks a new session
func (h *Hub) Register() *Session {
	s := &Session{
		ID:      uuid.NewString(),
		send:    make(chan Envelope, h.queueSize),
		done:    make(chan struct{}),
		dropped: &h.dropped,
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	count := len(h.sessions)
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"session": s.ID, "sessions": count}).Info("client connected")
	return s
}

// Unregister closes the session and stops tracking it
func (h *Hub) Unregister(s *Session) {
	s.Close()

	h.mu.Lock()
	_, ok := h.sessions[s.ID]
	delete(h.sessions, s.ID)
	count := len(h.sessions)
	h.mu.Unlock()

	if ok {
		h.log.WithFields(logrus.Fields{"session": s.ID, "sessions": count}).Info("client disconnected")
	}
}

// Broadcast offers ev to every connected session and returns how many accepted it
func (h *Hub) Broadcast(ev Envelope) int {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Send(ev) {
			delivered++
		}
	}

	if delivered < len(targets) {
		h.log.WithFields(logrus.Fields{
			"event":     ev.Event,
			"delivered": delivered,
			"sessions":  len(targets),
			"dropped":   h.dropped.Load(),
		}).Warn("broadcast not delivered to every session")
	}
	return delivered
}

// Count returns the number of connected sessions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Dropped returns the total number of events dropped because a queue was full
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
