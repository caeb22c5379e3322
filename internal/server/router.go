// Package server exposes disk discovery and installation over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"nithronos/zinstaller/internal/disks"
	"nithronos/zinstaller/internal/installer"
	"nithronos/zinstaller/internal/metrics"
	"nithronos/zinstaller/internal/sysinfo"
)

// Installer is the engine jobs run on.
type Installer interface {
	Install(ctx context.Context, req installer.Request, progress installer.ProgressFunc) error
	Busy() bool
}

type Options struct {
	Engine Installer
	Disks  disks.Lister
	// System describes the host; defaults to sysinfo.Collect.
	System         func(ctx context.Context) sysinfo.Info
	Metrics        *metrics.Metrics
	Version        string
	AllowedOrigins []string
	Log            zerolog.Logger
}

type Server struct {
	opts Options
	log  zerolog.Logger
	jobs *jobStore
	// ctx bounds running jobs; cancelling it rolls them back.
	ctx context.Context
}

// New returns a Server whose installation jobs live until ctx is cancelled.
func New(ctx context.Context, opts Options) *Server {
	if opts.System == nil {
		opts.System = sysinfo.Collect
	}
	return &Server{
		opts: opts,
		log:  opts.Log.With().Str("component", "server").Logger(),
		jobs: newJobStore(),
		ctx:  ctx,
	}
}

// Wait blocks until every started job has finished.
func (s *Server) Wait() { s.jobs.wg.Wait() }

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(zerologMiddleware(s.log))

	if len(s.opts.AllowedOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		})
		r.Use(c.Handler)
	}

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": s.opts.Version})
	})
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/system", s.handleSystem)
		r.Get("/disks", s.handleDisks)
		r.Post("/install", s.handleInstall)
		r.Get("/install/{id}", s.handleJob)
		r.Get("/install/{id}/events", s.handleJobEvents)
	})
	return r
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.System(r.Context()))
}

func (s *Server) handleDisks(w http.ResponseWriter, r *http.Request) {
	list, err := s.opts.Disks.List(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list disks")
		writeError(w, http.StatusInternalServerError, "disks.list_failed", err.Error(), nil)
		return
	}
	if list == nil {
		list = []disks.Disk{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"disks": list})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "install.not_found", "no such installation", nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// writeError writes {"error": {"code": ..., "message": ...}}.
func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{"error": errorPayload{Code: code, Message: message, Details: details}})
}
