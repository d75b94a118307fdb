// Package server provides the HTTP surface of the hand tracker: health, the
// annotated preview stream, live hand results and recorded sessions.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/smoother"
	"github.com/ayusman/mudra/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Source provides live tracking results. *app.App implements it.
type Source interface {
	Latest() app.Snapshot
	LatestJPEG() []byte
	Subscribe() (<-chan app.Snapshot, func())
	SmoothingConfig() smoother.Config
	SetSmoothingConfig(cfg smoother.Config) error
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Source    Source

	// StreamFPS caps the MJPEG frame rate. Zero uses DefaultStreamFPS.
	StreamFPS int
}

// Server represents the HTTP server for the hand tracker.
type Server struct {
	config Config
	router chi.Router
	start  time.Time
	http   *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		router: chi.NewRouter(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)

	if s.config.Source != nil {
		r.Get("/api/stream", NewStreamHandler(s.config.Source, s.config.StreamFPS).ServeHTTP)
		r.Get("/api/hands", NewHandsHandler(s.config.Source).ServeHTTP)

		smoothing := api.NewSmoothingHandler(s.config.Source)
		r.Get("/api/smoothing", smoothing.Get)
		r.Put("/api/smoothing", smoothing.Put)
	}

	if s.config.Store != nil {
		sessions := api.NewSessionHandler(s.config.Store)
		r.Get("/api/sessions", sessions.List)
		r.Get("/api/sessions/{id}", sessions.Get)
		r.Delete("/api/sessions/{id}", sessions.Delete)
		r.Get("/api/sessions/{id}/frames", sessions.Frames)
	}

	if s.config.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Source != nil {
		latest := s.config.Source.Latest()
		response["frame_index"] = latest.FrameIndex
		response["active"] = latest.Active
		response["hands"] = len(latest.Hands)
	}
	writeJSON(w, http.StatusOK, response)
}

// ListenAndServe starts the HTTP server on the given address. It returns nil
// after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a server started with ListenAndServe.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
