// internal/analysis/analysis.go

// Package analysis answers read-only questions about the synced graph.
package analysis

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github-fork-graph/internal/cursor"
	custom_errors "github-fork-graph/internal/errors"
	"github-fork-graph/internal/graph"
	"github-fork-graph/internal/merge"
	"github-fork-graph/internal/model"
)

// RepositoryFetcher reads live repository metadata.
type RepositoryFetcher interface {
	FetchRepository(ctx context.Context, ref model.RepoRef) (model.RepositoryInfo, error)
}

// Info compares the graph with the remote source for one repository.
type Info struct {
	ID      string         `json:"id"`
	Repo    model.RepoRef  `json:"repo"`
	URL     string         `json:"url,omitempty"`
	IsFork  bool           `json:"is_fork"`
	Parent  *model.RepoRef `json:"parent,omitempty"`
	Local   model.Counts   `json:"local"`
	Remote  *model.Counts  `json:"remote,omitempty"`
	Cursors model.Cursors  `json:"cursors"`
}

// Ratio returns local/remote for kind. ok is false without remote totals
// or when the remote total is zero.
func (i Info) Ratio(kind model.EdgeKind) (ratio float64, ok bool) {
	if i.Remote == nil || i.Remote.Get(kind) == 0 {
		return 0, false
	}
	return float64(i.Local.Get(kind)) / float64(i.Remote.Get(kind)), true
}

// Fork is a direct fork of a repository.
type Fork struct {
	ID        string          `json:"id"`
	Repo      model.RepoRef   `json:"repo"`
	OwnerType model.OwnerType `json:"owner_type"`
	URL       string          `json:"url,omitempty"`
	// Forks is the number of direct forks of this fork.
	Forks     int    `json:"forks"`
	PatchDate string `json:"patch_date,omitempty"`
}

// Service runs the queries. fetcher and merger are optional; without them
// Info reports the graph only.
type Service struct {
	store   graph.Store
	fetcher RepositoryFetcher
	merger  *merge.Engine
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(store graph.Store, fetcher RepositoryFetcher, merger *merge.Engine, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		fetcher: fetcher,
		merger:  merger,
		logger:  logger.With("component", "analysis"),
	}
}

// Info returns graph counts for ref. With a fetcher configured the live
// metadata is fetched and merged first, so the repository exists in the
// graph even before its first sync.
func (s *Service) Info(ctx context.Context, ref model.RepoRef) (Info, error) {
	var remote *model.RepositoryInfo
	if s.fetcher != nil {
		live, err := s.fetcher.FetchRepository(ctx, ref)
		if err != nil {
			return Info{}, err
		}
		if s.merger != nil {
			if err := s.merger.MergeRepository(ctx, live.Repository); err != nil {
				return Info{}, err
			}
		}
		remote = &live
	}

	rec, err := s.find(ctx, ref)
	if err != nil {
		return Info{}, err
	}
	id := graph.AsString(rec.Props["id"])
	state, err := cursor.NewStore(s.store).Load(ctx, id)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		ID:      id,
		Repo:    ref,
		URL:     graph.AsString(rec.Props["url"]),
		IsFork:  graph.AsBool(rec.Props["isFork"]),
		Local:   state.Counts,
		Cursors: state.Cursors,
	}
	if remote != nil {
		info.Parent = remote.Parent
		info.Remote = &model.Counts{
			Stargazers: remote.StargazerCount,
			Watchers:   remote.WatcherCount,
			Forks:      remote.ForkCount,
		}
	}
	return info, nil
}

// Forks lists the direct forks of ref, most forked first.
func (s *Service) Forks(ctx context.Context, ref model.RepoRef) ([]Fork, error) {
	rec, err := s.find(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.forks(ctx, graph.AsString(rec.Props["id"]), "")
}

// TopForkingOrganizations returns the organization-owned forks of ref
// ordered by how often they were forked themselves.
func (s *Service) TopForkingOrganizations(ctx context.Context, ref model.RepoRef, limit int) ([]Fork, error) {
	rec, err := s.find(ctx, ref)
	if err != nil {
		return nil, err
	}
	forks, err := s.forks(ctx, graph.AsString(rec.Props["id"]), model.OwnerOrganization)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(forks) > limit {
		forks = forks[:limit]
	}
	return forks, nil
}

// Delete removes ref and everything with a path into it: its forks,
// stargazers, watchers and owner. It returns the number of deleted nodes.
func (s *Service) Delete(ctx context.Context, ref model.RepoRef) (int, error) {
	rec, err := s.find(ctx, ref)
	if err != nil {
		return 0, err
	}
	id := graph.AsString(rec.Props["id"])
	n, err := s.store.DeleteSubtree(ctx, graph.RepositoryRef(id))
	if err != nil {
		return 0, fmt.Errorf("deleting %s: %w", ref, err)
	}
	s.logger.Info("deleted repository", "repo", ref.String(), "repo_id", id, "nodes", n)
	return n, nil
}

func (s *Service) forks(ctx context.Context, repoID string, ownerType model.OwnerType) ([]Fork, error) {
	records, err := s.store.Incoming(ctx, graph.RepositoryRef(repoID), model.RelFork)
	if err != nil {
		return nil, err
	}

	out := make([]Fork, 0, len(records))
	for _, r := range records {
		f := Fork{
			ID:        graph.AsString(r.Props["id"]),
			Repo:      model.RepoRef{Owner: graph.AsString(r.Props["login"]), Name: graph.AsString(r.Props["name"])},
			OwnerType: model.OwnerType(graph.AsString(r.Props["ownerType"])),
			URL:       graph.AsString(r.Props["url"]),
			PatchDate: graph.AsString(r.Props["patch_date"]),
		}
		if ownerType != "" && f.OwnerType != ownerType {
			continue
		}
		f.Forks, err = s.store.CountIncoming(ctx, graph.RepositoryRef(f.ID), model.RelFork, false)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}

	slices.SortFunc(out, func(a, b Fork) int {
		return cmp.Or(cmp.Compare(b.Forks, a.Forks), cmp.Compare(a.Repo.String(), b.Repo.String()))
	})
	return out, nil
}

// find returns the repository node of ref or EmptyDatabase.
func (s *Service) find(ctx context.Context, ref model.RepoRef) (graph.Record, error) {
	found, err := s.store.Find(ctx, model.LabelRepository, map[string]any{"login": ref.Owner, "name": ref.Name})
	if err != nil {
		return graph.Record{}, err
	}
	if len(found) == 0 {
		return graph.Record{}, &custom_errors.EmptyDatabase{Repo: ref.String()}
	}
	return found[0], nil
}
