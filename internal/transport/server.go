// Package transport exposes the call registry over HTTP.
//
// The surface is small: callers create a session with POST /v1/sessions,
// open the audio channel by upgrading GET /v1/sessions/{id}/ws to a
// WebSocket, and end the call with DELETE /v1/sessions/{id}. The services
// catalogue, health probes, and Prometheus metrics round out the routes.
//
// Over the WebSocket, inbound binary frames are raw PCM16 caller audio and
// inbound text frames are JSON control messages (playback_complete,
// hangup). Outbound binary frames are synthesized agent audio; outbound
// text frames are JSON status events.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicelinehq/voiceline/internal/agent"
	"github.com/voicelinehq/voiceline/internal/call"
	"github.com/voicelinehq/voiceline/internal/health"
	"github.com/voicelinehq/voiceline/internal/observe"
)

// Config assembles a [Server]. Registry is required.
type Config struct {
	Registry  *call.Registry
	Catalogue *agent.Catalogue
	Health    *health.Handler
	Metrics   *observe.Metrics
	Logger    *slog.Logger
}

// Server is the HTTP front of the orchestrator. Construct with [New] and
// mount [Server.Handler] on an http.Server.
type Server struct {
	registry  *call.Registry
	catalogue *agent.Catalogue
	log       *slog.Logger
	handler   http.Handler
}

// New builds the route table and wraps it in the observability middleware.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	s := &Server{
		registry:  cfg.Registry,
		catalogue: cfg.Catalogue,
		log:       log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{id}/ws", s.handleSessionSocket)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleEndSession)
	mux.HandleFunc("GET /v1/services", s.handleServices)
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handler = observe.Middleware(metrics)(mux)
	return s
}

// Handler returns the root HTTP handler including middleware.
func (s *Server) Handler() http.Handler { return s.handler }

// handleCreateSession registers a new idle session and returns its ID. The
// caller is expected to open the WebSocket next.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.registry.Create(r.Context())
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID()})
}

// handleSessionSocket upgrades to a WebSocket and runs the call. The
// handler blocks for the lifetime of the call: the session loop runs here
// while a separate goroutine pumps inbound frames.
func (s *Server) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.WarnContext(r.Context(), "websocket accept failed", slog.Any("error", err))
		return
	}

	conn := newConn(ws, s.log)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		err := conn.readLoop(ctx, sess)
		if ctx.Err() != nil || errors.Is(err, call.ErrSessionEnded) {
			return
		}
		// The caller's connection is gone mid-call.
		s.log.InfoContext(ctx, "transport closed",
			slog.String("session_id", sess.ID()), slog.Any("error", err))
		sess.End()
	}()

	switch err := sess.Attach(ctx, conn); {
	case errors.Is(err, call.ErrAlreadyAttached):
		// Another socket is driving this call; leave the session alone.
		ws.Close(websocket.StatusPolicyViolation, err.Error())
		return
	case errors.Is(err, call.ErrSessionEnded):
		ws.Close(websocket.StatusPolicyViolation, err.Error())
	case err != nil:
		s.log.ErrorContext(ctx, "session failed",
			slog.String("session_id", sess.ID()), slog.Any("error", err))
		ws.Close(websocket.StatusInternalError, "session error")
	default:
		ws.Close(websocket.StatusNormalClosure, "call ended")
	}

	// The call is over however it ended (hangup, farewell, disconnect).
	// Retire it so the registry drops the entry and exports the transcript;
	// a concurrent DELETE may already have done so.
	if err := s.registry.Retire(r.Context(), sess.ID()); err != nil && !errors.Is(err, call.ErrSessionNotFound) {
		s.log.ErrorContext(ctx, "session retire failed",
			slog.String("session_id", sess.ID()), slog.Any("error", err))
	}
}

// handleEndSession retires the session, which also triggers transcript
// export.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	err := s.registry.Retire(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, call.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleServices returns the bookable services catalogue.
func (s *Server) handleServices(w http.ResponseWriter, _ *http.Request) {
	services := []agent.Service{}
	if s.catalogue != nil {
		services = s.catalogue.Services()
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

// writeError encodes a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
