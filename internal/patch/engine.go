// internal/patch/engine.go
package patch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	custom_errors "github-fork-graph/internal/errors"
	"github-fork-graph/internal/graph"
	"github-fork-graph/internal/merge"
	"github-fork-graph/internal/metrics"
	"github-fork-graph/internal/model"
	"github-fork-graph/internal/runlog"
)

// Target is what forks are compared against: a date, or a CVE whose date
// is resolved from the upstream issue history. Exactly one is set.
type Target struct {
	Date time.Time
	CVE  string
}

// Validate checks that exactly one of Date and CVE is set.
func (t Target) Validate() error {
	switch {
	case t.Date.IsZero() && t.CVE == "":
		return errors.New("a target date or CVE is required")
	case !t.Date.IsZero() && t.CVE != "":
		return errors.New("target date and CVE are mutually exclusive")
	}
	return nil
}

// ForkStatus is the resolved state of one fork.
type ForkStatus struct {
	ID        string          `json:"id"`
	Repo      model.RepoRef   `json:"repo"`
	Parent    model.RepoRef   `json:"parent"`
	Depth     int             `json:"depth"`
	PatchDate model.PatchDate `json:"patch_date"`
	Unpatched bool            `json:"unpatched"`
}

// ForkFailure is a fork whose resolution failed. Its own forks are not
// visited.
type ForkFailure struct {
	ID    string        `json:"id"`
	Repo  model.RepoRef `json:"repo"`
	Error string        `json:"error"`
}

// Report is the outcome of a patch query.
type Report struct {
	Upstream model.RepoRef `json:"upstream"`
	Target   time.Time     `json:"target"`
	CVE      string        `json:"cve,omitempty"`
	Forks    []ForkStatus  `json:"forks"`
	Failed   []ForkFailure `json:"failed,omitempty"`
}

// Unpatched returns the forks classified as unpatched.
func (r Report) Unpatched() []ForkStatus {
	var out []ForkStatus
	for _, f := range r.Forks {
		if f.Unpatched {
			out = append(out, f)
		}
	}
	return out
}

// Options tune remote paging and fan-out.
type Options struct {
	PageSize    int
	Concurrency int
}

// Engine is the Patch Resolution Engine.
type Engine struct {
	source   Source
	store    graph.Store
	merger   *merge.Engine
	recorder runlog.Recorder
	opts     Options
	logger   *slog.Logger
}

// NewEngine wires an Engine. source may be nil when only StoredReport is used.
func NewEngine(source Source, store graph.Store, merger *merge.Engine, rec runlog.Recorder, opts Options, logger *slog.Logger) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if rec == nil {
		rec = runlog.Nop{}
	}
	return &Engine{
		source:   source,
		store:    store,
		merger:   merger,
		recorder: rec,
		opts:     opts,
		logger:   logger.With("component", "patch"),
	}
}

// node is a repository visited during the fork walk.
type node struct {
	id        string
	ref       model.RepoRef
	effective model.PatchDate
	root      bool
}

// Unpatched resolves the patch date of every fork of ref reachable through
// the graph, stores it on the fork and classifies it against target.
func (e *Engine) Unpatched(ctx context.Context, ref model.RepoRef, target Target) (Report, error) {
	runID, err := e.recorder.Start(ctx, ref.String(), runlog.KindPatch)
	if err != nil {
		e.logger.Warn("failed to record run start", "repo", ref.String(), "error", err)
	}

	report, err := e.unpatched(ctx, ref, target)

	out := runlog.Outcome{Status: runlog.StatusSucceeded, Counts: model.Counts{Forks: len(report.Forks)}, Err: err}
	if err != nil {
		out.Status = runlog.StatusFailed
	}
	if ferr := e.recorder.Finish(context.WithoutCancel(ctx), runID, out); ferr != nil {
		e.logger.Warn("failed to record run result", "repo", ref.String(), "error", ferr)
	}
	return report, err
}

func (e *Engine) unpatched(ctx context.Context, ref model.RepoRef, target Target) (Report, error) {
	report := Report{Upstream: ref}
	if err := target.Validate(); err != nil {
		return report, err
	}
	if e.source == nil {
		return report, errors.New("no remote source configured")
	}

	rootID, err := e.lookup(ctx, ref)
	if err != nil {
		return report, err
	}

	report.Target = target.Date
	if target.CVE != "" {
		cve, err := ParseCVE(target.CVE)
		if err != nil {
			return report, err
		}
		at, err := ResolveCVEDate(ctx, e.source, ref, cve, e.opts.PageSize)
		if err != nil {
			return report, err
		}
		report.CVE = cve.ID
		report.Target = at
		e.logger.Info("resolved CVE date", "cve", cve.ID, "date", at.Format(time.RFC3339))
	}

	err = e.walk(ctx, rootID, ref, func(ctx context.Context, parent node, fork node) (model.PatchDate, error) {
		own, err := ResolveByDate(ctx, e.source, fork.ref, parent.id, e.opts.PageSize)
		if err != nil {
			return model.Never, err
		}
		effective := Effective(own, parent.effective, parent.root)
		if err := e.merger.SetPatchDate(ctx, fork.id, effective); err != nil {
			return model.Never, err
		}
		return effective, nil
	}, &report)
	return report, err
}

// StoredReport classifies forks from the patch dates saved by an earlier
// Unpatched call, without touching the remote source. Forks never resolved
// count as unpatched.
func (e *Engine) StoredReport(ctx context.Context, ref model.RepoRef, target time.Time) (Report, error) {
	report := Report{Upstream: ref, Target: target}
	rootID, err := e.lookup(ctx, ref)
	if err != nil {
		return report, err
	}
	err = e.walk(ctx, rootID, ref, func(ctx context.Context, _ node, fork node) (model.PatchDate, error) {
		props, err := e.store.Node(ctx, graph.RepositoryRef(fork.id))
		if err != nil {
			return model.Never, err
		}
		date, err := model.ParsePatchDate(graph.AsString(props["patch_date"]))
		if err != nil {
			return model.Never, nil
		}
		return date, nil
	}, &report)
	return report, err
}

type resolveFunc func(ctx context.Context, parent node, fork node) (model.PatchDate, error)

// walk visits forks level by level. Forks of one level are resolved
// concurrently; a fork whose resolution fails is reported and its subtree
// skipped.
func (e *Engine) walk(ctx context.Context, rootID string, rootRef model.RepoRef, resolve resolveFunc, report *Report) error {
	visited := map[string]bool{rootID: true}
	level := []node{{id: rootID, ref: rootRef, root: true}}

	for depth := 1; len(level) > 0; depth++ {
		type job struct {
			parent node
			fork   node
		}
		var jobs []job
		for _, parent := range level {
			records, err := e.store.Incoming(ctx, graph.RepositoryRef(parent.id), model.RelFork)
			if err != nil {
				return fmt.Errorf("forks of %s: %w", parent.ref, err)
			}
			for _, r := range records {
				id := graph.AsString(r.Props["id"])
				if id == "" || visited[id] {
					continue
				}
				visited[id] = true
				jobs = append(jobs, job{parent: parent, fork: node{id: id, ref: model.RepoRef{
					Owner: graph.AsString(r.Props["login"]),
					Name:  graph.AsString(r.Props["name"]),
				}}})
			}
		}

		var (
			mu   sync.Mutex
			next []node
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.Concurrency)
		for _, j := range jobs {
			g.Go(func() error {
				date, err := resolve(gctx, j.parent, j.fork)
				if gctx.Err() != nil {
					return gctx.Err()
				}

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					metrics.PatchResolutions.WithLabelValues("error").Inc()
					e.logger.Warn("failed to resolve fork", "fork", j.fork.ref.String(), "error", err)
					report.Failed = append(report.Failed, ForkFailure{ID: j.fork.id, Repo: j.fork.ref, Error: err.Error()})
					return nil
				}
				unpatched := Classify(date, report.Target)
				outcome := "patched"
				if unpatched {
					outcome = "unpatched"
				}
				metrics.PatchResolutions.WithLabelValues(outcome).Inc()
				report.Forks = append(report.Forks, ForkStatus{
					ID:        j.fork.id,
					Repo:      j.fork.ref,
					Parent:    j.parent.ref,
					Depth:     depth,
					PatchDate: date,
					Unpatched: unpatched,
				})
				fork := j.fork
				fork.effective = date
				next = append(next, fork)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		level = next
	}

	slices.SortFunc(report.Forks, func(a, b ForkStatus) int {
		return cmp.Or(cmp.Compare(a.Depth, b.Depth), cmp.Compare(a.Repo.String(), b.Repo.String()))
	})
	slices.SortFunc(report.Failed, func(a, b ForkFailure) int {
		return cmp.Compare(a.Repo.String(), b.Repo.String())
	})
	return nil
}

// lookup finds the id of a synced repository by owner and name.
func (e *Engine) lookup(ctx context.Context, ref model.RepoRef) (string, error) {
	found, err := e.store.Find(ctx, model.LabelRepository, map[string]any{"login": ref.Owner, "name": ref.Name})
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", &custom_errors.EmptyDatabase{Repo: ref.String()}
	}
	return graph.AsString(found[0].Props["id"]), nil
}
