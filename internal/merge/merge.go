// internal/merge/merge.go

// Package merge writes fetched records into the graph. Every operation is
// an upsert keyed by natural identity, so replaying a page is harmless.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	custom_errors "github-fork-graph/internal/errors"
	"github-fork-graph/internal/graph"
	"github-fork-graph/internal/metrics"
	"github-fork-graph/internal/model"
)

// Engine is the Merge Engine.
type Engine struct {
	store  graph.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine writing to store.
func NewEngine(store graph.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With("component", "merge"),
		now:    time.Now,
	}
}

// ApplyResult summarises a merged page.
type ApplyResult struct {
	Merged  int
	Skipped int
}

// MergeOwner upserts an owner. created is set once, lastSeen on every
// later merge; attributes missing from o are left untouched.
func (e *Engine) MergeOwner(ctx context.Context, o model.Owner) error {
	if !o.Valid() {
		return fmt.Errorf("invalid owner %q of type %q", o.Login, o.Type)
	}
	err := e.store.MergeNode(ctx, e.ownerNode(o))
	return conflict("owner", o.Login, err)
}

// MergeRepository upserts a repository together with its owner and the
// OWN edge between them.
func (e *Engine) MergeRepository(ctx context.Context, repo model.Repository) error {
	if repo.ID == "" {
		return fmt.Errorf("repository %s has no id", repo.Ref())
	}
	if !repo.Owner.Valid() {
		return fmt.Errorf("repository %s has an invalid owner", repo.Ref())
	}
	err := e.store.Update(ctx, func(w graph.Writer) error {
		return e.writeRepository(ctx, w, repo)
	})
	return conflict("repository", repo.ID, err)
}

// MergeEdge links from to the repository toRepoID. from is an owner login
// for stargazers and watchers and a repository id for forks.
func (e *Engine) MergeEdge(ctx context.Context, kind model.EdgeKind, from, toRepoID string) error {
	fromRef := graph.OwnerRef(from)
	if kind == model.Forks {
		fromRef = graph.RepositoryRef(from)
	}
	err := e.store.MergeEdge(ctx, graph.Edge{From: fromRef, To: graph.RepositoryRef(toRepoID), Type: kind.Rel()})
	return conflict(string(kind), from, err)
}

// MergeFork records fork as a fork of upstreamID. The fork's owner and
// repository nodes are created in the same transaction as the edge.
func (e *Engine) MergeFork(ctx context.Context, upstreamID string, fork model.ForkRecord) error {
	if fork.ID == "" || !fork.Owner.Valid() {
		return fmt.Errorf("incomplete fork record %q", fork.ID)
	}
	err := e.store.Update(ctx, func(w graph.Writer) error {
		if err := e.writeRepository(ctx, w, fork.Repository); err != nil {
			return err
		}
		return w.MergeEdge(ctx, graph.Edge{
			From: graph.RepositoryRef(fork.ID),
			To:   graph.RepositoryRef(upstreamID),
			Type: model.RelFork,
		})
	})
	return conflict("fork", fork.ID, err)
}

// ApplyPage merges every record of page into repoID. Each record is its own
// transaction: a constraint violation skips that record only, any other
// error aborts the page.
func (e *Engine) ApplyPage(ctx context.Context, repoID string, page model.Page) (ApplyResult, error) {
	var res ApplyResult
	logger := e.logger.With("repo_id", repoID, "kind", string(page.Kind))

	apply := func(key string, fn func() error) error {
		err := fn()
		var mc *custom_errors.MergeConflict
		switch {
		case err == nil:
			res.Merged++
			metrics.ItemsMerged.WithLabelValues(string(page.Kind)).Inc()
			return nil
		case errors.As(err, &mc):
			res.Skipped++
			metrics.MergeConflicts.WithLabelValues(string(page.Kind)).Inc()
			logger.Warn("skipping record after merge conflict", "key", key, "error", err)
			return nil
		}
		return err
	}

	switch page.Kind {
	case model.Stargazers, model.Watchers:
		for _, o := range page.Owners {
			if !o.Valid() {
				res.Skipped++
				logger.Debug("skipping empty owner record")
				continue
			}
			if err := apply(o.Login, func() error { return e.mergeOwnerEdge(ctx, page.Kind, o, repoID) }); err != nil {
				return res, fmt.Errorf("merging %s %q: %w", page.Kind, o.Login, err)
			}
		}
	case model.Forks:
		for _, f := range page.Forks {
			if f.ID == "" || !f.Owner.Valid() {
				res.Skipped++
				logger.Debug("skipping empty fork record")
				continue
			}
			if err := apply(f.ID, func() error { return e.MergeFork(ctx, repoID, f) }); err != nil {
				return res, fmt.Errorf("merging fork %q: %w", f.ID, err)
			}
		}
	default:
		return res, fmt.Errorf("unknown edge kind %q", page.Kind)
	}

	logger.Debug("applied page", "merged", res.Merged, "skipped", res.Skipped)
	return res, nil
}

// SetPatchDate stores the resolved patch date of a fork.
func (e *Engine) SetPatchDate(ctx context.Context, repoID string, date model.PatchDate) error {
	return e.store.SetProperties(ctx, graph.RepositoryRef(repoID), map[string]any{
		"patch_date": date.String(),
	})
}

func (e *Engine) mergeOwnerEdge(ctx context.Context, kind model.EdgeKind, o model.Owner, repoID string) error {
	err := e.store.Update(ctx, func(w graph.Writer) error {
		if err := w.MergeNode(ctx, e.ownerNode(o)); err != nil {
			return err
		}
		return w.MergeEdge(ctx, graph.Edge{
			From: graph.OwnerRef(o.Login),
			To:   graph.RepositoryRef(repoID),
			Type: kind.Rel(),
		})
	})
	return conflict(string(kind), o.Login, err)
}

func (e *Engine) writeRepository(ctx context.Context, w graph.Writer, repo model.Repository) error {
	if err := w.MergeNode(ctx, e.ownerNode(repo.Owner)); err != nil {
		return err
	}
	props := repositoryProperties(repo)
	if err := w.MergeNode(ctx, graph.Node{
		Labels:   []string{model.LabelRepository},
		Key:      "id",
		Value:    repo.ID,
		OnCreate: props,
		OnMatch:  props,
	}); err != nil {
		return err
	}
	return w.MergeEdge(ctx, graph.Edge{
		From: graph.OwnerRef(repo.Owner.Login),
		To:   graph.RepositoryRef(repo.ID),
		Type: model.RelOwn,
	})
}

func (e *Engine) ownerNode(o model.Owner) graph.Node {
	ts := e.now().UTC().Format(time.RFC3339)
	props := o.Properties()

	onCreate := maps.Clone(props)
	onCreate["created"] = ts
	onMatch := maps.Clone(props)
	onMatch["lastSeen"] = ts

	return graph.Node{
		Labels:   []string{model.LabelOwner, o.Label()},
		Key:      "login",
		Value:    o.Login,
		OnCreate: onCreate,
		OnMatch:  onMatch,
	}
}

func repositoryProperties(repo model.Repository) map[string]any {
	props := map[string]any{
		"name":      repo.Name,
		"isFork":    repo.IsFork,
		"login":     repo.Owner.Login,
		"ownerType": string(repo.Owner.Type),
	}
	if repo.URL != "" {
		props["url"] = repo.URL
	}
	if !repo.PushedAt.IsZero() {
		props["pushedAt"] = repo.PushedAt.UTC().Format(time.RFC3339)
	}
	return props
}

// conflict turns store constraint violations into MergeConflict.
func conflict(kind, key string, err error) error {
	if err == nil {
		return nil
	}
	var mc *custom_errors.MergeConflict
	if errors.As(err, &mc) {
		return err
	}
	if errors.Is(err, graph.ErrConstraintViolation) {
		return &custom_errors.MergeConflict{Kind: kind, Key: key, Err: err}
	}
	return err
}
