// internal/cursor/cursor.go

// Package cursor persists per-repository pagination state on the
// Repository node itself.
package cursor

import (
	"context"
	"errors"
	"fmt"

	"github-fork-graph/internal/graph"
	"github-fork-graph/internal/model"
)

// Store loads and saves cursors and counts.
type Store struct {
	graph graph.Store
}

// NewStore returns a Store on top of g.
func NewStore(g graph.Store) *Store {
	return &Store{graph: g}
}

// Graph returns the underlying graph store.
func (s *Store) Graph() graph.Store {
	return s.graph
}

// Load returns the saved state of repoID. A repository that was never
// synced yields zero counts and nil cursors, not an error.
func (s *Store) Load(ctx context.Context, repoID string) (model.RepoState, error) {
	var state model.RepoState
	ref := graph.RepositoryRef(repoID)

	props, err := s.graph.Node(ctx, ref)
	if errors.Is(err, graph.ErrNotFound) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("loading cursors of %s: %w", repoID, err)
	}
	for _, kind := range model.EdgeKinds {
		state.Cursors.Set(kind, graph.AsStringPtr(props[kind.CursorField()]))
	}

	counts, err := Counts(ctx, s.graph, repoID)
	if err != nil {
		return state, err
	}
	state.Counts = counts
	return state, nil
}

// Save records cursor as the position reached for kind. Callers only save
// after a non-empty page was merged; a nil cursor is never written.
func (s *Store) Save(ctx context.Context, repoID string, kind model.EdgeKind, cursor *string) error {
	if cursor == nil {
		return nil
	}
	field := kind.CursorField()
	if field == "" {
		return fmt.Errorf("unknown edge kind %q", kind)
	}
	if err := s.graph.SetProperties(ctx, graph.RepositoryRef(repoID), map[string]any{field: *cursor}); err != nil {
		return fmt.Errorf("saving %s cursor of %s: %w", kind, repoID, err)
	}
	return nil
}

// SaveCounts caches the live counts on the repository node.
func (s *Store) SaveCounts(ctx context.Context, repoID string, counts model.Counts) error {
	return s.graph.SetProperties(ctx, graph.RepositoryRef(repoID), map[string]any{
		"stargazer_count": counts.Stargazers,
		"watcher_count":   counts.Watchers,
		"fork_count":      counts.Forks,
	})
}

// Counts derives the counts of repoID from live edges. Forks are counted
// through fork-of-fork chains.
func Counts(ctx context.Context, g graph.Reader, repoID string) (model.Counts, error) {
	var counts model.Counts
	ref := graph.RepositoryRef(repoID)
	for _, kind := range model.EdgeKinds {
		n, err := g.CountIncoming(ctx, ref, kind.Rel(), kind == model.Forks)
		if err != nil {
			return counts, fmt.Errorf("counting %s of %s: %w", kind, repoID, err)
		}
		counts.Add(kind, n)
	}
	return counts, nil
}
