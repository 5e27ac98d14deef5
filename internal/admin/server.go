// Package admin serves health, status, reload and metrics endpoints.
//
// The server has no TLS. Bind it to localhost or a private network, and set
// a token so that reloads need "Authorization: Bearer <token>".
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Monitor is the part of the monitor the admin endpoints need.
type Monitor interface {
	Reload(ctx context.Context) error
	Channels() int
	LoadedAt() time.Time
	FeedURLs() []string
}

// Status is the /admin/status response.
type Status struct {
	Channels int       `json:"channels"`
	Feeds    int       `json:"feeds"`
	LoadedAt time.Time `json:"loaded_at"`
	Uptime   string    `json:"uptime"`
}

// Options configures the admin server.
type Options struct {
	Addr string
	// Token, when set, is required by POST /admin/reload.
	Token string
}

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
	token      string
	monitor    Monitor
	log        *slog.Logger
	started    time.Time
}

// New creates a Server. metrics may be nil.
func New(opts Options, monitor Monitor, metrics http.Handler, log *slog.Logger) *Server {
	srv := &Server{
		token:   opts.Token,
		monitor: monitor,
		log:     log,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/healthz", srv.handleHealthz)
	mux.HandleFunc("GET /admin/status", srv.handleStatus)
	mux.HandleFunc("POST /admin/reload", srv.handleReload)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Status{
		Channels: s.monitor.Channels(),
		Feeds:    len(s.monitor.FeedURLs()),
		LoadedAt: s.monitor.LoadedAt(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if err := s.monitor.Reload(r.Context()); err != nil {
		s.log.Error("admin reload", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"channels": s.monitor.Channels()})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("admin server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
