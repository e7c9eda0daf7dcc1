package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/amaumene/reclaimarr/internal/config"
	"github.com/amaumene/reclaimarr/internal/controllers"
	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/amaumene/reclaimarr/internal/services/arr"
	"github.com/amaumene/reclaimarr/internal/services/overseerr"
	"github.com/amaumene/reclaimarr/internal/services/plex"
	"github.com/amaumene/reclaimarr/internal/services/tautulli"
	"github.com/amaumene/reclaimarr/internal/utils"
	"github.com/sirupsen/logrus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired components shared by every command
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	db     *models.Database
	tracer *sdktrace.TracerProvider

	resolver  *controllers.EndpointResolver
	syncCtrl  *controllers.SyncController
	evaluator *controllers.RetentionEvaluator
	cleanup   *controllers.CleanupController
	watchCtrl *controllers.WatchController // nil without Tautulli
}

func newApp() (*app, error) {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Setup logger and tracing
	logger := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.WithField("config_dir", filepath.Dir(cfg.DatabaseFile)).Info("Configuration loaded")
	tracer := utils.NewTracerProvider(logger)

	// 3. Initialize database
	db, err := models.NewDatabase(cfg.DatabaseFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Info("Database initialized")

	if err := seedDefaultRule(db, cfg.DefaultRule, logger); err != nil {
		db.Close()
		return nil, err
	}

	// 4. Initialize services. Unconfigured integrations stay nil interfaces.
	directory := plex.NewDirectory(logger)

	var series, movies controllers.DownloadManager
	if cfg.SonarrURL != "" {
		series = arr.NewSonarrClient(cfg.SonarrURL, cfg.SonarrAPIKey, logger)
		logger.Info("Sonarr client initialized")
	}
	if cfg.RadarrURL != "" {
		movies = arr.NewRadarrClient(cfg.RadarrURL, cfg.RadarrAPIKey, logger)
		logger.Info("Radarr client initialized")
	}

	var requests controllers.RequestBroker
	if cfg.OverseerrURL != "" {
		requests = overseerr.NewClient(cfg.OverseerrURL, cfg.OverseerrAPIKey, logger)
		logger.Info("Overseerr client initialized")
	}

	// 5. Initialize controllers
	resolver := controllers.NewEndpointResolver(
		db,
		directory,
		time.Duration(cfg.EndpointCacheHours)*time.Hour,
		time.Duration(cfg.EndpointCachedTimeoutSeconds)*time.Second,
		time.Duration(cfg.EndpointDiscoveryTimeoutSeconds)*time.Second,
		logger,
	)
	evaluator := controllers.NewRetentionEvaluator(db, logger)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		tracer:    tracer,
		resolver:  resolver,
		syncCtrl:  controllers.NewSyncController(db, directory, resolver, logger),
		evaluator: evaluator,
		cleanup: controllers.NewCleanupController(
			db,
			resolver,
			cfg.PlexToken,
			series,
			movies,
			requests,
			evaluator,
			time.Duration(cfg.DeletionDelayMS)*time.Millisecond,
			logger,
		),
	}
	if cfg.TautulliEnabled() {
		history := tautulli.NewClient(cfg.TautulliURL, cfg.TautulliAPIKey, logger)
		a.watchCtrl = controllers.NewWatchController(db, history, cfg.WatchHistoryDays, logger)
		logger.Info("Tautulli client initialized")
	}
	logger.Info("Controllers initialized")

	return a, nil
}

// Close flushes traces and closes the database
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("Failed to flush traces")
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close database")
	}
}

// seedDefaultRule stores the configured rule when no rule exists yet
func seedDefaultRule(db *models.Database, rc config.RuleConfig, logger *logrus.Logger) error {
	rules, err := db.ListRules()
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}
	if len(rules) > 0 {
		return nil
	}

	rule := &models.RetentionRule{
		Name:                    "Default",
		Enabled:                 true,
		GracePeriodDays:         rc.GracePeriodDays,
		InactivityThresholdDays: rc.InactivityDays,
		ExcludedLibraries:       rc.ExcludedLibraries,
		ExcludedGenres:          rc.ExcludedGenres,
		ExcludedCollections:     rc.ExcludedCollections,
		MinRating:               rc.MinRating,
		DryRunOnly:              rc.DryRunOnly,
	}
	if err := db.CreateRule(rule); err != nil {
		return fmt.Errorf("failed to seed default rule: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"rule_id":       rule.ID,
		"grace_days":    rule.GracePeriodDays,
		"inactive_days": rule.InactivityThresholdDays,
		"dry_run_only":  rule.DryRunOnly,
	}).Info("Seeded default retention rule")
	return nil
}
