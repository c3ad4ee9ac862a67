// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

// Package main is the entry point for the Metricus server.
//
// Metricus keeps per-client web analytics synchronized from an external
// reporting API into an embedded DuckDB store. Recent months are stored with
// daily granularity, older months as monthly aggregates, and the sync engine
// fetches only what is missing.
//
// Startup order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, config file, env)
//  2. Database: embedded DuckDB with the metrics and credentials schema
//  3. Auth: token encryption at rest plus single-flight OAuth refresh
//  4. Reporting client: rate-limited, optionally behind a circuit breaker
//  5. Events (optional): sync.completed publishing over NATS
//  6. Supervisor tree: status sweeper, optional sync scheduler, HTTP server
//
// Shutdown is signal driven: SIGINT or SIGTERM cancels the root context, the
// supervisor drains its services, and the HTTP server finishes in-flight
// requests within server.shutdown_timeout.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/metricus/internal/api"
	"github.com/tomtom215/metricus/internal/auth"
	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/database"
	"github.com/tomtom215/metricus/internal/events"
	"github.com/tomtom215/metricus/internal/jobs"
	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/report"
	"github.com/tomtom215/metricus/internal/status"
	"github.com/tomtom215/metricus/internal/storage"
	"github.com/tomtom215/metricus/internal/supervisor"
	syncpkg "github.com/tomtom215/metricus/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Int("period_count", cfg.Sync.PeriodCount).
		Msg("Starting Metricus")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	encryptor, err := auth.NewTokenEncryptor(cfg.Security.TokenMasterKey)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize token encryption")
	}
	if encryptor.IsEnabled() {
		logging.Info().Msg("Token encryption at rest enabled")
	} else {
		logging.Warn().Msg("Token encryption at rest disabled (no master key configured)")
	}
	credentials := auth.NewCoordinator(db, auth.NewTokenClient(&cfg.OAuth), encryptor)

	var reportClient report.ClientInterface = report.NewClient(&cfg.Reporting)
	if cfg.Reporting.BreakerEnabled {
		reportClient = report.NewCircuitBreakerClient(report.NewClient(&cfg.Reporting))
		logging.Info().Msg("Reporting API circuit breaker enabled")
	}

	registry := status.NewRegistry(&cfg.Status)
	metricStore := storage.NewCoordinator(db)

	var completionPublisher syncpkg.CompletionPublisher
	publisher, err := events.NewPublisher(&cfg.Events)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize event publisher")
	}
	if publisher != nil {
		completionPublisher = publisher
		defer func() {
			if err := publisher.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing event publisher")
			}
		}()
		logging.Info().Str("topic", cfg.Events.Topic).Msg("Sync event publishing enabled")
	}

	orchestrator := syncpkg.NewOrchestrator(
		credentials, reportClient, metricStore, registry, completionPublisher, &cfg.Sync)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := jobs.NewQueue(&cfg.Jobs)
	queue.Start(ctx)
	defer queue.Stop()

	handler := api.NewHandler(orchestrator, registry, queue, db)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler, &cfg.Server),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddBackgroundService(status.NewSweeper(registry))
	if cfg.Sync.SchedulerEnabled {
		tree.AddBackgroundService(syncpkg.NewScheduler(orchestrator, db, &cfg.Sync))
		logging.Info().Dur("interval", cfg.Sync.Interval).Msg("Periodic sync scheduler enabled")
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Metricus stopped")
}
