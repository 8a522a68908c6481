// internal/syncer/orchestrator.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github-fork-graph/internal/cursor"
	custom_errors "github-fork-graph/internal/errors"
	"github-fork-graph/internal/merge"
	"github-fork-graph/internal/metrics"
	"github-fork-graph/internal/model"
	"github-fork-graph/internal/policy"
	"github-fork-graph/internal/runlog"
)

// State is the per-repository sync state.
type State int

const (
	Idle State = iota
	Paging
	Draining
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Paging:
		return "paging"
	case Draining:
		return "draining"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Fetcher is the remote source as seen by the orchestrator.
type Fetcher interface {
	FetchRepository(ctx context.Context, ref model.RepoRef) (model.RepositoryInfo, error)
	FetchRound(ctx context.Context, ref model.RepoRef, req model.RoundRequest) (model.RoundResult, error)
}

// Options tune the pagination loop.
type Options struct {
	PageSize   int
	StallLimit int
}

// Result describes one repository sync.
type Result struct {
	Repository model.RepositoryInfo
	State      State
	Rounds     int
	Merged     int
	Skipped    int
	// Counts are derived from live edges once the sync is done.
	Counts model.Counts
	// Parent is set when the parent of a fork was synced first.
	Parent *Result
}

// Orchestrator drives the fetch and merge loop of a single repository.
type Orchestrator struct {
	fetcher  Fetcher
	merger   *merge.Engine
	cursors  *cursor.Store
	policy   policy.AutoConfirmPolicy
	recorder runlog.Recorder
	opts     Options
	logger   *slog.Logger
	locks    *repoLocks
}

// NewOrchestrator wires an Orchestrator. A nil recorder disables the run log.
func NewOrchestrator(f Fetcher, m *merge.Engine, c *cursor.Store, p policy.AutoConfirmPolicy, rec runlog.Recorder, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.StallLimit <= 0 {
		opts.StallLimit = 3
	}
	if p == nil {
		p = policy.Never
	}
	if rec == nil {
		rec = runlog.Nop{}
	}
	return &Orchestrator{
		fetcher:  f,
		merger:   m,
		cursors:  c,
		policy:   p,
		recorder: rec,
		opts:     opts,
		logger:   logger.With("component", "orchestrator"),
		locks:    newRepoLocks(),
	}
}

// Sync brings the graph of ref up to date, resuming from saved cursors.
// A failed round leaves every cursor at its last saved position, so calling
// Sync again continues where this call stopped.
func (o *Orchestrator) Sync(ctx context.Context, ref model.RepoRef) (Result, error) {
	start := time.Now()
	runID, err := o.recorder.Start(ctx, ref.String(), runlog.KindSync)
	if err != nil {
		o.logger.Warn("failed to record run start", "repo", ref.String(), "error", err)
	}

	res, err := o.sync(ctx, ref, map[model.RepoRef]bool{})

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.SyncDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())

	out := runlog.Outcome{Status: runlog.StatusSucceeded, Rounds: res.Rounds, Counts: res.Counts, Err: err}
	if err != nil {
		out.Status = runlog.StatusFailed
	}
	if ferr := o.recorder.Finish(context.WithoutCancel(ctx), runID, out); ferr != nil {
		o.logger.Warn("failed to record run result", "repo", ref.String(), "error", ferr)
	}
	return res, err
}

func (o *Orchestrator) sync(ctx context.Context, ref model.RepoRef, visited map[model.RepoRef]bool) (Result, error) {
	visited[ref] = true
	logger := o.logger.With("owner", ref.Owner, "repo", ref.Name)
	res := Result{State: Idle}

	release, err := o.locks.acquire(ctx, ref)
	if err != nil {
		return res, err
	}
	defer release()

	info, err := o.fetcher.FetchRepository(ctx, ref)
	if err != nil {
		return res, fmt.Errorf("fetching %s: %w", ref, err)
	}
	res.Repository = info
	if err := o.merger.MergeRepository(ctx, info.Repository); err != nil {
		return res, fmt.Errorf("merging %s: %w", ref, err)
	}
	logger = logger.With("repo_id", info.ID)

	if info.IsFork && info.Parent != nil && !visited[*info.Parent] {
		parent, err := o.syncParent(ctx, info, visited)
		if err != nil {
			return res, err
		}
		res.Parent = parent
	}

	state, err := o.cursors.Load(ctx, info.ID)
	if err != nil {
		return res, err
	}
	logger.Info("syncing repository",
		"stargazers", state.Counts.Stargazers,
		"watchers", state.Counts.Watchers,
		"forks", state.Counts.Forks)

	if err := o.page(ctx, logger, info, &state, &res); err != nil {
		return res, err
	}

	counts, err := cursor.Counts(ctx, o.cursors.Graph(), info.ID)
	if err != nil {
		return res, err
	}
	if err := o.cursors.SaveCounts(ctx, info.ID, counts); err != nil {
		return res, err
	}
	res.Counts = counts
	o.transition(logger, &res, Done)
	logger.Info("repository synced",
		"rounds", res.Rounds,
		"stargazers", counts.Stargazers,
		"watchers", counts.Watchers,
		"forks", counts.Forks,
		"remote_stargazers", info.StargazerCount,
		"remote_forks", info.ForkCount)
	return res, nil
}

// page runs Paging and Draining rounds until no kind has more pages.
func (o *Orchestrator) page(ctx context.Context, logger *slog.Logger, info model.RepositoryInfo, state *model.RepoState, res *Result) error {
	active := append([]model.EdgeKind(nil), model.EdgeKinds...)
	stalls := make(map[model.EdgeKind]int, len(active))

	for len(active) > 0 {
		// Cancellation is only honoured between rounds, never mid-merge.
		if err := ctx.Err(); err != nil {
			return err
		}

		o.transition(logger, res, Paging)
		round, err := o.fetcher.FetchRound(ctx, info.Ref(), model.RoundRequest{
			Kinds:    active,
			Cursors:  state.Cursors,
			PageSize: o.opts.PageSize,
		})
		if err != nil {
			metrics.SyncRounds.WithLabelValues("fetch_error").Inc()
			return fmt.Errorf("round %d of %s: %w", res.Rounds+1, info.Ref(), err)
		}
		res.Rounds++

		o.transition(logger, res, Draining)
		// A started round is drained completely even if ctx is canceled, so
		// the saved cursors always match what was merged.
		drainCtx := context.WithoutCancel(ctx)
		var next []model.EdgeKind
		for _, kind := range active {
			page := round.Pages[kind]
			page.Kind = kind

			applied, err := o.merger.ApplyPage(drainCtx, info.ID, page)
			res.Merged += applied.Merged
			res.Skipped += applied.Skipped
			if err != nil {
				metrics.SyncRounds.WithLabelValues("merge_error").Inc()
				return fmt.Errorf("round %d of %s: %w", res.Rounds, info.Ref(), err)
			}

			if page.Fetched() > 0 && page.EndCursor != nil {
				if err := o.cursors.Save(drainCtx, info.ID, kind, page.EndCursor); err != nil {
					return err
				}
				state.Cursors.Set(kind, page.EndCursor)
				stalls[kind] = 0
				logger.Debug("cursor advanced", "kind", string(kind), "cursor", *page.EndCursor,
					"items", page.Len(), "dropped", page.Dropped)
			} else if page.HasNextPage {
				stalls[kind]++
				if stalls[kind] >= o.opts.StallLimit {
					return &custom_errors.ErrPaginationStalled{
						Kind:   string(kind),
						Cursor: deref(state.Cursors.Get(kind)),
						Rounds: stalls[kind],
					}
				}
				logger.Warn("empty page with more pages reported", "kind", string(kind), "consecutive", stalls[kind])
			}

			if page.HasNextPage {
				next = append(next, kind)
			}
		}
		metrics.SyncRounds.WithLabelValues("ok").Inc()
		active = next
	}
	return nil
}

func (o *Orchestrator) syncParent(ctx context.Context, info model.RepositoryInfo, visited map[model.RepoRef]bool) (*Result, error) {
	parentRef := *info.Parent
	ok, err := o.policy.Confirm(ctx, policy.Question{Kind: policy.SyncParent, Subject: info.Ref().String()})
	if err != nil {
		return nil, err
	}
	if !ok {
		o.logger.Info("not syncing parent of fork", "repo", info.Ref().String(), "parent", parentRef.String())
		return nil, nil
	}

	o.logger.Info("syncing parent of fork first", "repo", info.Ref().String(), "parent", parentRef.String())
	parent, err := o.sync(ctx, parentRef, visited)
	if err != nil {
		return nil, fmt.Errorf("syncing parent %s: %w", parentRef, err)
	}
	if err := o.merger.MergeEdge(ctx, model.Forks, info.ID, parent.Repository.ID); err != nil {
		var mc *custom_errors.MergeConflict
		if !errors.As(err, &mc) {
			return nil, err
		}
		o.logger.Warn("skipping fork edge to parent", "error", err)
	}
	return &parent, nil
}

func (o *Orchestrator) transition(logger *slog.Logger, res *Result, to State) {
	if res.State == to {
		return
	}
	logger.Debug("state transition", "from", res.State.String(), "to", to.String())
	res.State = to
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
