package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/commjoen/urlsentry/internal/session"
	"github.com/commjoen/urlsentry/pkg/models"
)

type submitReportRequest struct {
	URL        string            `json:"url"`
	ReportData models.ReportData `json:"reportData"`
}

type reportResultPayload struct {
	URL          string               `json:"url"`
	ReportStatus *models.ReportStatus `json:"reportStatus"`
}

type reportStatusPayload struct {
	SubmissionID string                `json:"submissionId"`
	Status       *models.ReportOutcome `json:"status"`
}

type errorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "websocket upgrade required"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	sess := s.connect()
	defer s.hub.Unregister(sess)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writePump(conn, sess)
	}()

	s.readPump(ctx, conn, sess)

	sess.Close()
	<-writeDone
}

// connect registers a session whose first event is the identifier snapshot, so
// late joiners catch up on every identifier filed so far
func (s *Server) connect() *session.Session {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	sess := s.hub.Register()
	sess.Send(s.snapshotEnvelope())
	return sess
}

// broadcastSnapshot sends the current identifier list to every session
func (s *Server) broadcastSnapshot() {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	s.hub.Broadcast(s.snapshotEnvelope())
}

func (s *Server) snapshotEnvelope() session.Envelope {
	return session.Envelope{Event: session.EventReportUUIDs, Data: s.reports.Registry().Snapshot()}
}

// reply delivers the response to a request back to the session that made it
func (s *Server) reply(sess *session.Session, ev session.Envelope) {
	err := sess.Reply(ev, s.replyTimeout)
	if err == nil {
		return
	}
	log := s.log.WithError(err).WithFields(logrus.Fields{"session": sess.ID, "event": ev.Event})
	if errors.Is(err, session.ErrSessionClosed) {
		log.Debug("client gone before reply")
		return
	}
	log.Warn("reply not delivered, session closed")
}

// readPump decodes inbound events until the connection fails. Each request is
// handled on its own goroutine so a slow provider never blocks the session.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	log := s.log.WithField("session", sess.ID)

	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("websocket read failed")
			}
			return
		}
		if mt != websocket.TextMessage {
			s.reply(sess, errorEnvelope("", "expected text message"))
			continue
		}

		var in session.Inbound
		if err := json.Unmarshal(msg, &in); err != nil {
			s.reply(sess, errorEnvelope("", "invalid json"))
			continue
		}

		go s.dispatch(ctx, sess, in)
	}
}

// writePump is the only writer on conn
func (s *Server) writePump(conn *websocket.Conn, sess *session.Session) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-sess.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.WithError(err).WithField("session", sess.ID).Debug("websocket write failed")
				sess.Close()
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				sess.Close()
				_ = conn.Close()
				return
			}
		case <-sess.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(500*time.Millisecond))
			// Unblocks readPump when the session was closed from this side
			_ = conn.Close()
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, sess *session.Session, in session.Inbound) {
	log := s.log.WithFields(logrus.Fields{"session": sess.ID, "event": in.Event})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("request handler panicked")
			s.reply(sess, errorEnvelope(in.Event, "internal error"))
		}
	}()

	switch in.Event {
	case session.EventCheckURL:
		rawURL, err := decodeString(in.Data, "url")
		if err != nil {
			s.reply(sess, errorEnvelope(in.Event, err.Error()))
			return
		}
		log.WithField("url", rawURL).Debug("checking url")
		result := s.resolver.Resolve(ctx, rawURL)
		s.reply(sess, session.Envelope{Event: session.EventURLResult, Data: result})

	case session.EventSubmitReport:
		var req submitReportRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			s.reply(sess, errorEnvelope(in.Event, "invalid report payload"))
			return
		}
		sub := s.reports.Submit(ctx, req.URL, req.ReportData)
		if sub.Registered {
			s.broadcastSnapshot()
		}
		s.reply(sess, session.Envelope{
			Event: session.EventReportResult,
			Data:  reportResultPayload{URL: sub.URL, ReportStatus: sub.ReportStatus},
		})

	case session.EventGetReportStatus:
		id, err := decodeString(in.Data, "submissionId")
		if err != nil {
			s.reply(sess, errorEnvelope(in.Event, err.Error()))
			return
		}
		status := s.reports.Status(ctx, id)
		s.reply(sess, session.Envelope{
			Event: session.EventReportStatusResult,
			Data:  reportStatusPayload{SubmissionID: id, Status: status},
		})

	default:
		log.Debug("unknown event")
		s.reply(sess, errorEnvelope(in.Event, fmt.Sprintf("unknown event %q", in.Event)))
	}
}

// decodeString accepts either a bare JSON string or an object carrying the value
// under field.
func decodeString(data json.RawMessage, field string) (string, error) {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", fmt.Errorf("%s must be a string", field)
		}
		raw, ok := obj[field]
		if !ok || json.Unmarshal(raw, &v) != nil {
			return "", fmt.Errorf("%s must be a string", field)
		}
	}
	// Values are used verbatim; only blank input is rejected
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s is required", field)
	}
	return v, nil
}

func errorEnvelope(event, message string) session.Envelope {
	return session.Envelope{Event: session.EventError, Data: errorPayload{Event: event, Message: message}}
}
