// Package server exposes the reputation service to browser clients over a websocket
// and a small read-only HTTP API.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/commjoen/urlsentry/internal/report"
	"github.com/commjoen/urlsentry/internal/session"
	"github.com/commjoen/urlsentry/pkg/models"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 60 * time.Second
	writeWait           = 10 * time.Second
	maxMessageBytes     = 64 * 1024
)

// Resolver produces reputation verdicts
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) *models.ReputationResult
}

// Reports files abuse reports and polls their status
type Reports interface {
	Submit(ctx context.Context, rawURL string, data models.ReportData) report.Submission
	Status(ctx context.Context, submissionID string) *models.ReportOutcome
	Registry() *report.Registry
}

// Config wires a Server
type Config struct {
	Resolver       Resolver
	Reports        Reports
	Hub            *session.Hub
	AllowedOrigins []string
	PingInterval   time.Duration
	PongWait       time.Duration

	// ReplyTimeout bounds how long a response waits for outbound queue space
	ReplyTimeout time.Duration

	Logger logrus.FieldLogger
}

// Server routes client requests to the reputation and report workflows
type Server struct {
	resolver Resolver
	reports  Reports
	hub      *session.Hub
	origins  []string
	upgrader websocket.Upgrader

	pingInterval time.Duration
	pongWait     time.Duration
	replyTimeout time.Duration

	// snapMu orders identifier snapshots: a snapshot is taken and queued to
	// sessions under the lock so no session receives an older list last
	snapMu sync.Mutex

	log logrus.FieldLogger
}

// New creates a server
func New(config Config) *Server {
	if config.Hub == nil {
		config.Hub = session.NewHub(session.DefaultQueueSize, config.Logger)
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaultPingInterval
	}
	if config.PongWait <= 0 {
		config.PongWait = defaultPongWait
	}
	if config.ReplyTimeout <= 0 {
		config.ReplyTimeout = writeWait
	}
	if config.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		config.Logger = l
	}

	s := &Server{
		resolver:     config.Resolver,
		reports:      config.Reports,
		hub:          config.Hub,
		origins:      config.AllowedOrigins,
		pingInterval: config.PingInterval,
		pongWait:     config.PongWait,
		replyTimeout: config.ReplyTimeout,
		log:          config.Logger,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Hub returns the session hub
func (s *Server) Hub() *session.Hub {
	return s.hub
}

// Router returns the HTTP handler for all routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.healthz)
	r.Get("/ws", s.serveWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/reports", s.listReports)
		r.Get("/reports/{id}", s.getReport)
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.hub.Count(),
		"dropped":  s.hub.Dropped(),
	})
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"submissions": s.reports.Registry().Submissions(),
	})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, ok := s.reports.Registry().Lookup(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "submission not found"})
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// checkOrigin accepts requests without an Origin header (non-browser clients) and
// browser requests from an allowed origin. "*" allows every origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	s.log.WithField("origin", origin).Warn("rejected websocket origin")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
