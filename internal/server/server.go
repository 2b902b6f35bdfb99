// Package server provides the HTTP server and routing for driftwatch.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/driftwatch/internal/config"
	"github.com/aristath/driftwatch/internal/database"
	"github.com/aristath/driftwatch/internal/events"
	alerthandlers "github.com/aristath/driftwatch/internal/modules/alerts/handlers"
	allocationhandlers "github.com/aristath/driftwatch/internal/modules/allocation/handlers"
	drifthandlers "github.com/aristath/driftwatch/internal/modules/drift/handlers"
	snapshothandlers "github.com/aristath/driftwatch/internal/modules/snapshots/handlers"
)

// Config holds server configuration
type Config struct {
	Log         zerolog.Logger
	Config      *config.Config
	SnapshotsDB *database.DB
	Events      *events.Manager

	DriftHandler      *drifthandlers.Handler
	AllocationHandler *allocationhandlers.Handler
	AlertsHandler     *alerthandlers.Handler
	SnapshotsHandler  *snapshothandlers.Handler
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	snapshotsDB    *database.DB
	systemHandlers *SystemHandlers
	streamHandler  *EventsStreamHandler
	handlers       Config
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg.Config,
		snapshotsDB:    cfg.SnapshotsDB,
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.SnapshotsDB),
		streamHandler:  NewEventsStreamHandler(cfg.Events, cfg.Log),
		handlers:       cfg,
	}

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Health check outside /api for load balancers
	s.router.Get("/health", s.systemHandlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// SSE stream has no write timeout concerns beyond the server's;
		// register it first so it never shadows other routes.
		r.Get("/events/stream", s.streamHandler.ServeHTTP)

		s.handlers.DriftHandler.RegisterRoutes(r)
		s.handlers.SnapshotsHandler.RegisterRoutes(r)
		s.handlers.AllocationHandler.RegisterRoutes(r)
		s.handlers.AlertsHandler.RegisterRoutes(r)

		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.systemHandlers.HandleSystemHealth)
			r.Get("/stats", s.systemHandlers.HandleStats)
		})
	})
}

// loggingMiddleware logs each request with timing information
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
