// Package web is the daemon's HTTP surface: the keep-alive endpoint plus a
// thin JSON API through which external callers feed presence events and
// query rankings, conditions, and the action log.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wardlab/infirmary/internal/catalog"
	"github.com/wardlab/infirmary/internal/clock"
	"github.com/wardlab/infirmary/internal/condition"
	"github.com/wardlab/infirmary/internal/config"
	"github.com/wardlab/infirmary/internal/presence"
	"github.com/wardlab/infirmary/internal/store"
)

// Server is the HTTP server for the infirmary API.
type Server struct {
	cfg      *config.Config
	engine   *presence.Engine
	registry *condition.Registry
	tracker  *presence.Tracker
	catalog  *catalog.Catalog
	store    *store.Store
	clock    clock.Clock
	log      *zap.Logger
	mux      *http.ServeMux
	server   *http.Server
}

// New creates the web server and registers its routes.
func New(cfg *config.Config, engine *presence.Engine, registry *condition.Registry, tracker *presence.Tracker, cat *catalog.Catalog, st *store.Store, clk clock.Clock, log *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   engine,
		registry: registry,
		tracker:  tracker,
		catalog:  cat,
		store:    st,
		clock:    clk,
		log:      log,
		mux:      http.NewServeMux(),
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /v1/presence/enter", s.handleEnter)
	s.mux.HandleFunc("POST /v1/presence/leave", s.handleLeave)
	s.mux.HandleFunc("GET /v1/rankings", s.handleRankings)
	s.mux.HandleFunc("GET /v1/subjects/{id}", s.handleSubject)
	s.mux.HandleFunc("GET /v1/subjects/{id}/chart", s.handleChart)
	s.mux.HandleFunc("POST /v1/conditions", s.handleAssign)
	s.mux.HandleFunc("DELETE /v1/conditions/{subject}/{category}", s.handleCure)
	s.mux.HandleFunc("GET /v1/actions", s.handleActions)
	s.mux.HandleFunc("GET /v1/actions/{id}/stats", s.handleActionStats)
}

// Handler returns the route mux, for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start begins serving HTTP requests. It blocks until the server is shut
// down.
func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
