// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github-fork-graph/internal/model"
)

// repositorySyncer is the subset of Orchestrator the cycle runner needs.
type repositorySyncer interface {
	Sync(ctx context.Context, ref model.RepoRef) (Result, error)
}

// Syncer keeps a fixed set of repositories up to date.
type Syncer struct {
	orchestrator repositorySyncer
	logger       *slog.Logger
	reposToSync  []model.RepoRef
	syncInterval time.Duration
	concurrency  int
}

// NewSyncer creates a new Syncer instance. Duplicate repositories are synced
// once per cycle so no two workers page the same cursors.
func NewSyncer(o *Orchestrator, logger *slog.Logger, repos []string, interval time.Duration, concurrency int) (*Syncer, error) {
	parsedRepos, err := parseRepoRefs(repos)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Syncer{
		orchestrator: o,
		logger:       logger,
		reposToSync:  parsedRepos,
		syncInterval: interval,
		concurrency:  concurrency,
	}, nil
}

// Start runs a cycle immediately and then once per interval until ctx ends.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting syncer", "interval", s.syncInterval.String(), "concurrency", s.concurrency, "repos", len(s.reposToSync))
	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	s.logCycle(s.RunCycle(ctx))

	for {
		select {
		case <-ticker.C:
			s.logCycle(s.RunCycle(ctx))
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			return
		}
	}
}

// RunCycle syncs every configured repository once. Failures of one
// repository do not stop the others; they are joined into the result.
func (s *Syncer) RunCycle(ctx context.Context) error {
	s.logger.Info("Starting new sync cycle")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	errs := make([]error, len(s.reposToSync))
	for i, ref := range s.reposToSync {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := s.orchestrator.Sync(gctx, ref)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Error("Failed to sync repository", "owner", ref.Owner, "repo", ref.Name, "error", err)
				}
				errs[i] = fmt.Errorf("%s: %w", ref, err)
				return nil
			}
			s.logger.Info("Repository up to date", "owner", ref.Owner, "repo", ref.Name,
				"rounds", res.Rounds, "forks", res.Counts.Forks)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (s *Syncer) logCycle(err error) {
	if err != nil {
		s.logger.Error("Sync cycle finished with errors", "error", err)
		return
	}
	s.logger.Info("Sync cycle finished")
}

func parseRepoRefs(repos []string) ([]model.RepoRef, error) {
	seen := make(map[model.RepoRef]bool, len(repos))
	var refs []model.RepoRef
	for _, r := range repos {
		ref, err := model.ParseRepoRef(r)
		if err != nil {
			return nil, err
		}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs, nil
}
