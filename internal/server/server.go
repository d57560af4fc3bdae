// Package server exposes the HLS surface the cast receiver polls:
// playlist, segments, health, and session status.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/caststream/caststream/internal/session"
	"github.com/caststream/caststream/internal/source"
	"github.com/caststream/caststream/internal/transcoder"
)

// Catalog is the read side of the session registry. Implementations must
// not block on the transcoder; segment bytes are immutable copies.
type Catalog interface {
	// Playlist renders the session playlist with absolute URLs for host.
	// ok is false when the session is unknown.
	Playlist(sessionID, host string) (body string, ok bool)

	// Segment returns a copy of the segment bytes. sessionOK false means
	// an unknown session; nil data with sessionOK true means the segment
	// is not ready yet.
	Segment(sessionID string, index int) (data []byte, sessionOK bool)

	// Status reports the session pipeline state.
	Status(sessionID string) (transcoder.Status, bool)
}

// Journal lists finished and running session records for the API.
type Journal interface {
	ListRecent(ctx context.Context, limit int) (any, error)
}

// Controller is the write side of the session registry, backing the
// start/stop API.
type Controller interface {
	Start(ctx context.Context, desc source.Descriptor) (session.StartResult, error)
	Stop(sessionID string) error
	List() []session.Summary
}

// Config holds the HTTP listener configuration.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig binds all interfaces on an OS-assigned port.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            0,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the process-wide HLS HTTP server.
type Server struct {
	config     Config
	router     *chi.Mux
	httpServer *http.Server
	listener   net.Listener
	catalog    Catalog
	journal    Journal
	controller Controller
	logger     *slog.Logger
}

// NewServer builds the router. journal may be nil; /api/sessions then
// returns an empty list. controller may be nil; the start/stop API then
// responds 503.
func NewServer(config Config, catalog Catalog, journal Journal, controller Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "http"))

	s := &Server{
		config:     config,
		catalog:    catalog,
		journal:    journal,
		controller: controller,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogging(logger))
	r.Use(recovery(logger))
	r.Use(cors())

	r.Get("/", s.handlePing)
	r.Get("/ping", s.handlePing)
	r.Get("/hls/{session}/stream.m3u8", s.handlePlaylist)
	r.Get("/hls/{session}/segment{index}.ts", s.handleSegment)
	r.Get("/hls/{session}/status", s.handleStatus)
	r.Get("/api/sessions", s.handleSessions)
	r.Get("/api/sessions/active", s.handleActiveSessions)
	r.Post("/api/sessions", s.handleStartSession)
	r.Delete("/api/sessions/{session}", s.handleStopSession)

	s.router = r
	return s
}

// Router exposes the mux, mainly for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start binds the listener and serves until Shutdown. With Port 0 the
// bound port is available from Port() once Start has returned from bind.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.Info("http server listening", slog.String("address", ln.Addr().String()))

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Port returns the bound port, 0 before Start.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Shutdown drains connections within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "caststream OK")
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	body, ok := s.catalog.Playlist(sessionID, r.Host)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/vnd.apple.mpegurl")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		http.Error(w, "bad segment index", http.StatusBadRequest)
		return
	}

	data, sessionOK := s.catalog.Segment(sessionID, index)
	if !sessionOK {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if data == nil {
		// The receiver polls; tell it to come back rather than 404ing
		// it into abort.
		w.Header().Set("Retry-After", "1")
		http.Error(w, "segment not ready", http.StatusServiceUnavailable)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "video/mp2t")
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("Cache-Control", "max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	st, ok := s.catalog.Status(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, []any{})
		return
	}
	records, err := s.journal.ListRecent(r.Context(), 50)
	if err != nil {
		s.logger.Error("listing sessions", slog.Any("error", err))
		http.Error(w, "listing sessions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		writeJSON(w, []any{})
		return
	}
	writeJSON(w, s.controller.List())
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		http.Error(w, "session control unavailable", http.StatusServiceUnavailable)
		return
	}

	var desc source.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		http.Error(w, "bad descriptor: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.controller.Start(r.Context(), desc)
	if err != nil {
		s.logger.Warn("starting session", slog.Any("error", err))
		status := http.StatusBadGateway
		if errors.Is(err, source.ErrUnavailable) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(res)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		http.Error(w, "session control unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := s.controller.Stop(chi.URLParam(r, "session")); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	var sb strings.Builder
	if err := json.NewEncoder(&sb).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(sb.String()))
}
