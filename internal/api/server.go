package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/amaumene/reclaimarr/internal/api/handlers"
	"github.com/amaumene/reclaimarr/internal/api/middleware"
	"github.com/amaumene/reclaimarr/internal/config"
	"github.com/amaumene/reclaimarr/internal/controllers"
	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Controllers groups the controllers the HTTP API drives
type Controllers struct {
	Sync      *controllers.SyncController
	Resolver  *controllers.EndpointResolver
	Evaluator *controllers.RetentionEvaluator
	Cleanup   *controllers.CleanupController
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	db     *models.Database
	ctrls  Controllers
	logger *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, db *models.Database, ctrls Controllers, logger *logrus.Logger) *Server {
	s := &Server{
		db:     db,
		ctrls:  ctrls,
		logger: logger,
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux, cfg)

	// The event stream clears its own write deadline
	s.server = &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      middleware.Logging(mux, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(mux *http.ServeMux, cfg *config.Config) {
	// Health check
	healthHandler := handlers.NewHealthHandler(s.db, s.logger)
	mux.HandleFunc("/health", healthHandler.ServeHTTP)

	// Status endpoint
	statusHandler := handlers.NewStatusHandler(s.db, s.logger)
	mux.HandleFunc("/status", statusHandler.ServeHTTP)

	// Metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	// Library sync
	syncHandler := handlers.NewSyncHandler(s.ctrls.Sync, s.db, cfg.PlexToken, s.logger)
	mux.HandleFunc("GET /api/sync/stream", syncHandler.Stream)
	mux.HandleFunc("POST /api/sync/{id}/cancel", syncHandler.Cancel)
	mux.HandleFunc("GET /api/sync/runs", syncHandler.Runs)

	// Catalog views
	catalogHandler := handlers.NewCatalogHandler(s.db, s.ctrls.Resolver, s.logger)
	mux.HandleFunc("GET /api/storage", catalogHandler.Storage)
	mux.HandleFunc("GET /api/connections", catalogHandler.Connections)
	mux.HandleFunc("GET /api/deletions", catalogHandler.Deletions)

	// Retention rules
	rulesHandler := handlers.NewRulesHandler(s.db, s.ctrls.Evaluator, s.ctrls.Cleanup, s.logger)
	mux.HandleFunc("GET /api/rules", rulesHandler.List)
	mux.HandleFunc("POST /api/rules", rulesHandler.Create)
	mux.HandleFunc("GET /api/rules/{id}/candidates", rulesHandler.Candidates)
	mux.HandleFunc("POST /api/rules/{id}/execute", rulesHandler.Execute)
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("port", s.server.Addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
