// Package main is the entry point for the driftwatch portfolio drift
// dashboard service. It links a remote brokerage backend to the drift
// reconciliation engine: allocation normalization, drift calculation,
// threshold evaluation, and the cached alert rule store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/driftwatch/internal/clients/brokerage"
	"github.com/aristath/driftwatch/internal/config"
	"github.com/aristath/driftwatch/internal/database"
	"github.com/aristath/driftwatch/internal/events"
	"github.com/aristath/driftwatch/internal/modules/alerts"
	alerthandlers "github.com/aristath/driftwatch/internal/modules/alerts/handlers"
	allocationhandlers "github.com/aristath/driftwatch/internal/modules/allocation/handlers"
	"github.com/aristath/driftwatch/internal/modules/drift"
	drifthandlers "github.com/aristath/driftwatch/internal/modules/drift/handlers"
	"github.com/aristath/driftwatch/internal/modules/snapshots"
	snapshothandlers "github.com/aristath/driftwatch/internal/modules/snapshots/handlers"
	"github.com/aristath/driftwatch/internal/scheduler"
	"github.com/aristath/driftwatch/internal/server"
	"github.com/aristath/driftwatch/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	log.Info().Msg("Starting driftwatch")

	// Local snapshot history database. The alert rule cache is
	// deliberately memory-only and never touches disk.
	snapshotsDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/snapshots.db",
		Profile: database.ProfileStandard,
		Name:    "snapshots",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize snapshots database")
	}
	defer snapshotsDB.Close()
	log.Info().Str("db", snapshotsDB.Name()).Str("path", snapshotsDB.Path()).Msg("Snapshot database ready")

	snapshotRepo, err := snapshots.NewRepository(snapshotsDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize snapshot repository")
	}

	// Event manager feeds the SSE stream
	eventManager := events.NewManager(log)

	// Backend client and the services built on it
	backend := brokerage.NewClient(cfg.BrokerageAPIURL, cfg.BrokerageAPIToken, log)

	ruleStore := alerts.NewStore(backend, cfg.AlertCacheTTL, eventManager, log)

	coordinator := drift.NewCoordinator(backend, ruleStore, snapshotRepo, eventManager, log)

	// HTTP server
	srv := server.New(server.Config{
		Log:         log,
		Config:      cfg,
		SnapshotsDB: snapshotsDB,
		Events:      eventManager,

		DriftHandler:      drifthandlers.NewHandler(coordinator, log),
		AllocationHandler: allocationhandlers.NewHandler(backend, eventManager, log),
		AlertsHandler:     alerthandlers.NewHandler(ruleStore, backend, log),
		SnapshotsHandler:  snapshothandlers.NewHandler(snapshotRepo, log),
	})

	// Background jobs
	sched := scheduler.New(log)

	if cfg.DriftRefreshInterval > 0 {
		refreshJob := scheduler.NewDriftRefreshJob(coordinator, log)
		schedule := fmt.Sprintf("@every %s", cfg.DriftRefreshInterval)
		if err := sched.AddJob(schedule, refreshJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to register drift refresh job")
		}
	} else {
		log.Info().Msg("Background drift refresh disabled")
	}

	cleanupJob := scheduler.NewSnapshotCleanupJob(snapshotRepo, snapshotsDB, cfg.SnapshotRetention, log)
	if err := sched.AddJob("@daily", cleanupJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register snapshot cleanup job")
	}

	sched.Start()
	defer sched.Stop()

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("driftwatch stopped")
}
