// Package main is the entry point for the nightsync service. It keeps an
// insulin dosing profile tuned against recent glucose data: on a schedule
// (or on demand via the HTTP API) it pulls the profile and a window of
// history from the remote store, runs the external tuner over it, merges
// the recommendation into the profile, and pushes the result back.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/nightsync/internal/autotune"
	"github.com/aristath/nightsync/internal/config"
	"github.com/aristath/nightsync/internal/database"
	"github.com/aristath/nightsync/internal/history"
	"github.com/aristath/nightsync/internal/merge"
	"github.com/aristath/nightsync/internal/nightscout"
	"github.com/aristath/nightsync/internal/pipeline"
	"github.com/aristath/nightsync/internal/scheduler"
	"github.com/aristath/nightsync/internal/server"
	"github.com/aristath/nightsync/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("window_days", cfg.WindowDays).
		Bool("dry_run", cfg.DryRun).
		Msg("Starting nightsync")

	// Run history database
	db, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "history.db"),
		Name: "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close history database")
		}
	}()

	historyRepo, err := history.NewRepository(db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize run history")
	}

	// Remote store gateway
	retry := nightscout.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.BaseDelay = cfg.RetryBaseDelay
	retry.MaxDelay = cfg.RetryMaxDelay

	gateway, err := nightscout.NewClient(nightscout.Config{
		BaseURL:   cfg.NightscoutURL,
		APISecret: cfg.APISecret,
		Timeout:   cfg.HTTPTimeout,
		Retry:     retry,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create remote store client")
	}

	// Tuner and pipeline
	runner := autotune.NewExecRunner(autotune.Config{
		ExecutablePath: cfg.AutotunePath,
		Timeout:        cfg.AutotuneTimeout,
	}, log)

	orchestrator := pipeline.NewOrchestrator(gateway, runner, merge.NewEngine(log), pipeline.Config{
		ProfileName: cfg.ProfileName,
		WindowDays:  cfg.WindowDays,
		DryRun:      cfg.DryRun,
	}, log)
	service := pipeline.NewService(orchestrator, historyRepo, log)

	// Scheduled runs
	var sched *scheduler.Scheduler
	if cfg.SyncSchedule != "" {
		sched, err = scheduler.New(cfg.SyncSchedule, service, log)
		if err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.SyncSchedule).Msg("Invalid sync schedule")
		}
		sched.Start()
	} else {
		log.Warn().Msg("SYNC_SCHEDULE is empty, runs must be triggered via the API")
	}

	// HTTP control API
	srv := server.New(server.Config{
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
	}, service, historyRepo, db, log)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
