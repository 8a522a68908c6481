// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github-fork-graph/internal/api"
	"github-fork-graph/internal/app"
	"github-fork-graph/internal/config"
	"github-fork-graph/internal/policy"
	"github-fork-graph/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	logger, logLevel := app.NewLogger(os.Stdout, true, "info")
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.RequireRepos(); err != nil {
		return err
	}
	app.SetLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully", "repos", len(cfg.ReposToSync))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Nobody answers prompts in the daemon.
	var confirm policy.AutoConfirmPolicy = policy.Never
	if cfg.AutoConfirm {
		confirm = policy.Always
	}

	a, err := app.New(ctx, cfg, app.Options{Policy: confirm}, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	logger.Info("Graph store connection established")

	appSyncer, err := syncer.NewSyncer(a.Orchestrator, logger, cfg.ReposToSync, cfg.SyncInterval, cfg.SyncConcurrency)
	if err != nil {
		return fmt.Errorf("failed to create syncer: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(deps(a), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		appSyncer.Start(ctx)
	}()

	logger.Info("Application started. Waiting for shutdown signal...")
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received. Exiting.")
	case err = <-serveErr:
		logger.Error("HTTP server failed", "error", err)
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", "error", err)
	}
	select {
	case <-syncDone:
	case <-shutdownCtx.Done():
		logger.Warn("Syncer did not stop before the shutdown deadline")
	}
	return err
}

func deps(a *app.App) api.Deps {
	d := api.Deps{
		Analysis: a.ReadOnlyAnalysis(),
		Patches:  a.Patches,
	}
	if a.Neo4j != nil {
		d.Health = a.Neo4j
	}
	if a.Runs != nil {
		d.Runs = a.Runs
	}
	return d
}
