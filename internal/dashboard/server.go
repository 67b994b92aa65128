// Package dashboard serves the owner-facing control surface: a REST API for
// state and history, a websocket feed pushing snapshots, logs, and inbound
// commands, and the Prometheus metrics endpoint. The dashboard never touches
// playback directly; every mutation travels to the orchestrator as a queued
// command.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/jmylchreest/rotarr/internal/catalog"
	"github.com/jmylchreest/rotarr/internal/config"
	"github.com/jmylchreest/rotarr/internal/observability"
	"github.com/jmylchreest/rotarr/internal/prepared"
	"github.com/jmylchreest/rotarr/internal/repository"
)

// Deps are the read-side dependencies of the dashboard. Writes go through
// the command queue instead.
type Deps struct {
	Catalog   *catalog.Provider
	Playlists repository.PlaylistRepository
	Sessions  repository.SessionRepository
	History   repository.PlaybackLogRepository
	Prepared  *prepared.Store
	LogRing   *observability.LogRing
	DB        *gorm.DB
	Registry  *prometheus.Registry
	Version   string
}

// Server is the dashboard HTTP/WebSocket server.
type Server struct {
	cfg        config.DashboardConfig
	log        *slog.Logger
	deps       Deps
	router     *chi.Mux
	api        huma.API
	hub        *Hub
	httpServer *http.Server
	startTime  time.Time

	mu       sync.RWMutex
	snapshot *Snapshot
}

// NewServer creates the dashboard server and registers all routes.
func NewServer(cfg config.DashboardConfig, deps Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(requestID)
	router.Use(requestLogger(log))
	router.Use(recovery(log))
	router.Use(cors(cfg.CORSOrigins))
	router.Use(skipCompressionForWebsocket(chimiddleware.Compress(5)))

	humaConfig := huma.DefaultConfig("rotarr API", version)
	humaConfig.Info.Description = "24/7 video rotation controller API"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:       cfg,
		log:       log,
		deps:      deps,
		router:    router,
		api:       api,
		hub:       NewHub(log),
		startTime: time.Now(),
	}
	s.registerOperations()

	router.Get("/ws", s.handleWS)
	if deps.Registry != nil {
		router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			deps.Registry, promhttp.HandlerOpts{},
		))
	}

	return s
}

// API returns the Huma API, used by tests to register probes.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the underlying router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Commands returns the queued dashboard commands for the orchestrator.
func (s *Server) Commands() <-chan Command {
	return s.hub.Commands()
}

// PushSnapshot caches the latest state and broadcasts it to connected
// clients. The orchestrator calls this on the snapshot cadence.
func (s *Server) PushSnapshot(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	s.hub.Broadcast("snapshot", snap)
}

// CurrentSnapshot returns the last pushed snapshot, or nil before the first
// push.
func (s *Server) CurrentSnapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// handleWS upgrades the connection and primes the client with the current
// snapshot and the recent log backlog.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var welcome []message
	if snap := s.CurrentSnapshot(); snap != nil {
		welcome = append(welcome, message{Type: "snapshot", Data: snap})
	}
	if s.deps.LogRing != nil {
		welcome = append(welcome, message{Type: "log_backlog", Data: s.deps.LogRing.Recent(100)})
	}
	s.hub.ServeWS(w, r, welcome...)
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run()

	if s.deps.LogRing != nil {
		sub := s.deps.LogRing.Subscribe(ctx)
		go s.forwardLogs(sub)
	}

	s.httpServer = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("dashboard listening", slog.String("address", s.cfg.Address()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("dashboard server: %w", err)
			return
		}
		errc <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.hub.Close()
		s.log.Info("dashboard stopped")
		return err
	case err := <-errc:
		s.hub.Close()
		return err
	}
}

// forwardLogs relays captured log entries to connected clients until the
// subscription closes.
func (s *Server) forwardLogs(sub *observability.LogSubscriber) {
	for entry := range sub.Events {
		s.hub.Broadcast("log", entry)
	}
}
