// Package api serves the dashboards over HTTP.
// Board reads, inputs and actions are public and scoped to a session.
// Listing sessions requires the admin bearer token.
package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/statboard/internal/boards"
	"github.com/talgya/statboard/internal/engine"
	"github.com/talgya/statboard/internal/observability"
	"github.com/talgya/statboard/internal/persistence"
	"github.com/talgya/statboard/internal/session"
)

//go:embed static/index.html
var static embed.FS

const (
	defaultMaxStreams   = 64
	defaultHeartbeat    = 15 * time.Second
	defaultJournalLimit = 50
	maxJournalLimit     = 500
	maxBodyBytes        = 4 << 10
)

// Journal lists and discards a session's journal entries.
type Journal interface {
	Recent(ctx context.Context, session string, limit int) ([]persistence.Entry, error)
	Forget(ctx context.Context, session string) (int64, error)
}

// Server serves the boards over HTTP.
type Server struct {
	Store    *session.Store
	Journal  Journal // nil disables the journal endpoint
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Limiter  *RateLimiter // nil disables action rate limiting

	Port        int
	AdminKey    string // Bearer token for admin endpoints. Empty = admin disabled.
	CORSOrigins []string
	MaxStreams  int
	Heartbeat   time.Duration

	// Active SSE connection count.
	sseConns atomic.Int32
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/sessions", s.adminOnly(s.handleListSessions))
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/journal", s.handleJournal)

	mux.HandleFunc("GET /api/v1/sessions/{id}/{board}", s.handleBoard)
	mux.HandleFunc("POST /api/v1/sessions/{id}/{board}/inputs", s.handleInput)
	action := s.handleAction
	if s.Limiter != nil {
		action = RateLimitMiddleware(s.Limiter, s.onRateLimit, action)
	}
	mux.HandleFunc("POST /api/v1/sessions/{id}/{board}/actions/{action}", action)
	mux.HandleFunc("GET /api/v1/sessions/{id}/{board}/stream", s.handleStream)

	return corsMiddleware(s.CORSOrigins, mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	slog.Info("HTTP API starting", "addr", srv.Addr, "admin_auth", s.AdminKey != "", "journal", s.Journal != nil)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("HTTP API stopped")
	return nil
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Localhost dev servers are always allowed.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range origins {
		allowedOrigins[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			writeError(w, http.StatusForbidden, "admin endpoints disabled (no STATBOARD_ADMIN_KEY set)")
			return
		}
		if !s.checkBearerToken(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) onRateLimit(r *http.Request) {
	slog.Warn("action rate limited", "ip", clientIP(r), "board", r.PathValue("board"))
	if s.Metrics != nil {
		s.Metrics.RateLimitExceeded(r.PathValue("board"))
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "page missing")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.Store.Len(),
		"streams":  s.sseConns.Load(),
	})
}

type createdSession struct {
	SessionID string   `json:"session_id"`
	Boards    []string `json:"boards"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Store.Create(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdSession{
		SessionID: sess.ID.String(),
		Boards:    []string{boards.ApplesBoard, boards.TreesBoard},
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.Store.List()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Store.Delete(id); err != nil {
		writeFailure(w, err)
		return
	}
	if s.Journal != nil {
		if n, err := s.Journal.Forget(r.Context(), id); err != nil {
			slog.Warn("journal cleanup failed", "session", id, "error", err)
		} else {
			slog.Debug("journal cleaned", "session", id, "entries", n)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled (no STATBOARD_DB set)")
		return
	}
	sess, err := s.Store.Get(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	limit := defaultJournalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJournalLimit)
	}

	entries, err := s.Journal.Recent(r.Context(), sess.ID.String(), limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// resolveBoard looks up the session and board named in the path.
func (s *Server) resolveBoard(w http.ResponseWriter, r *http.Request) (*session.Session, boards.Board, bool) {
	sess, err := s.Store.Get(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return nil, nil, false
	}
	b, ok := sess.Board(r.PathValue("board"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown board %q", r.PathValue("board")))
		return nil, nil, false
	}
	return sess, b, true
}

type boardView struct {
	Session string `json:"session_id"`
	engine.Snapshot
	Samples []float64 `json:"samples"`
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	sess, b, ok := s.resolveBoard(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, boardView{
		Session:  sess.ID.String(),
		Snapshot: b.Graph().Snapshot(),
		Samples:  b.Samples(),
	})
}

type inputRequest struct {
	Field string   `json:"field"`
	Value *float64 `json:"value"`
}

type commitView struct {
	Board      string            `json:"board"`
	Trigger    string            `json:"trigger"`
	Updated    []string          `json:"updated"`
	Suppressed []string          `json:"suppressed"`
	Artifacts  []engine.Artifact `json:"artifacts"`
}

func viewOf(c engine.Commit) commitView {
	v := commitView{
		Board:      c.Graph,
		Trigger:    c.Trigger,
		Updated:    c.Updated(),
		Suppressed: c.Suppressed,
		Artifacts:  c.Artifacts,
	}
	if v.Suppressed == nil {
		v.Suppressed = []string{}
	}
	if v.Artifacts == nil {
		v.Artifacts = []engine.Artifact{}
	}
	return v
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	_, b, ok := s.resolveBoard(w, r)
	if !ok {
		return
	}

	var req inputRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Field == "" {
		writeError(w, http.StatusBadRequest, "field is required")
		return
	}
	if f, ok := b.Graph().Field(req.Field); ok && f.Action {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%q is an action; POST to actions/%s", req.Field, req.Field))
		return
	}

	commit, err := b.Graph().Set(r.Context(), req.Field, req.Value)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(commit))
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	_, b, ok := s.resolveBoard(w, r)
	if !ok {
		return
	}
	commit, err := b.Graph().Trigger(r.Context(), r.PathValue("action"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(commit))
}

// handleStream sends the board's current artifacts, then every commit, as
// server-sent events. Concurrent connections are capped.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, b, ok := s.resolveBoard(w, r)
	if !ok {
		return
	}

	maxStreams := s.MaxStreams
	if maxStreams <= 0 {
		maxStreams = defaultMaxStreams
	}
	if current := s.sseConns.Add(1); current > int32(maxStreams) {
		s.sseConns.Add(-1)
		writeError(w, http.StatusServiceUnavailable, "too many SSE connections")
		return
	}
	defer s.sseConns.Add(-1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if s.Metrics != nil {
		s.Metrics.StreamOpened()
		defer s.Metrics.StreamClosed()
	}

	// Subscribe before the snapshot so no commit falls in between.
	subID, ch := b.Graph().Subscribe()
	defer b.Graph().Unsubscribe(subID)

	writeSSE(w, "snapshot", b.Graph().Snapshot())
	flusher.Flush()

	slog.Info("SSE client connected", "session", sess.ID, "board", b.Name(), "sub_id", subID)

	heartbeat := s.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, "commit", viewOf(c))
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-sess.Done():
			writeSSE(w, "closed", map[string]string{"session_id": sess.ID.String()})
			flusher.Flush()
			return
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "session", sess.ID, "sub_id", subID)
			return
		}
	}
}

// writeSSE writes a single event in SSE format.
func writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode SSE event", "event", event, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeFailure maps domain errors to HTTP status codes.
func writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidValue):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, engine.ErrUnknownField),
		errors.Is(err, engine.ErrNotAction):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Debug("write response", "error", err)
	}
}
