// internal/app/app.go

// Package app wires the components shared by the daemon and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github-fork-graph/internal/analysis"
	"github-fork-graph/internal/config"
	"github-fork-graph/internal/cursor"
	"github-fork-graph/internal/github"
	"github-fork-graph/internal/graph"
	"github-fork-graph/internal/merge"
	"github-fork-graph/internal/patch"
	"github-fork-graph/internal/policy"
	"github-fork-graph/internal/runlog"
	"github-fork-graph/internal/syncer"
)

// Options select how the components are built.
type Options struct {
	Policy policy.AutoConfirmPolicy
	// InMemory replaces Neo4j with a throwaway in-memory graph.
	InMemory bool
	// NoRunLog skips the Postgres run log even when DB_URL is set.
	NoRunLog bool
}

// App holds the wired components. Runs is nil without a run log.
type App struct {
	Config       *config.Config
	Graph        graph.Store
	Neo4j        *graph.Neo4jStore
	GitHub       *github.Client
	Runs         *runlog.Store
	Merger       *merge.Engine
	Orchestrator *syncer.Orchestrator
	Patches      *patch.Engine
	Analysis     *analysis.Service

	logger *slog.Logger
}

// New connects the stores and builds every component.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*App, error) {
	if opts.Policy == nil {
		opts.Policy = policy.Never
	}
	a := &App{Config: cfg, logger: logger}

	if opts.InMemory {
		a.Graph = graph.NewMemoryStore()
		logger.Info("using in-memory graph store")
	} else {
		store, err := graph.NewNeo4jStore(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase, logger)
		if err != nil {
			return nil, err
		}
		a.Neo4j, a.Graph = store, store
	}
	if err := a.Graph.EnsureSchema(ctx); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create graph schema: %w", err)
	}

	var recorder runlog.Recorder = runlog.Nop{}
	if cfg.DBURL != "" && !opts.NoRunLog {
		if err := runlog.Migrate(cfg.DBURL, cfg.MigrationsDir); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		runs, err := runlog.Open(ctx, cfg.DBURL, logger)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.Runs, recorder = runs, runs
		logger.Info("run log enabled")
	}

	gh, err := github.NewClient(github.OptionsFromConfig(cfg), opts.Policy, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create github client: %w", err)
	}
	a.GitHub = gh

	a.Merger = merge.NewEngine(a.Graph, logger)
	a.Orchestrator = syncer.NewOrchestrator(gh, a.Merger, cursor.NewStore(a.Graph), opts.Policy, recorder,
		syncer.Options{PageSize: cfg.PageSize, StallLimit: cfg.StallLimit}, logger)
	a.Patches = patch.NewEngine(gh, a.Graph, a.Merger, recorder,
		patch.Options{PageSize: cfg.PageSize, Concurrency: cfg.SyncConcurrency}, logger)
	a.Analysis = analysis.NewService(a.Graph, gh, a.Merger, logger)
	return a, nil
}

// ReadOnlyAnalysis answers from the graph without calling the remote source.
func (a *App) ReadOnlyAnalysis() *analysis.Service {
	return analysis.NewService(a.Graph, nil, nil, a.logger)
}

// Close releases the stores.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Runs != nil {
		a.Runs.Close()
	}
	if a.Graph != nil {
		errs = append(errs, a.Graph.Close(ctx))
	}
	return errors.Join(errs...)
}
