// internal/patch/resolve.go

// Package patch decides which forks of a repository have integrated an
// upstream change, either by merged pull requests or by the date a CVE was
// first discussed upstream.
package patch

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	custom_errors "github-fork-graph/internal/errors"
	"github-fork-graph/internal/model"
)

// Source is the remote history the resolver walks.
type Source interface {
	FetchPullRequests(ctx context.Context, ref model.RepoRef, before *string, pageSize int) (model.PullRequestPage, error)
	FetchIssueComments(ctx context.Context, ref model.RepoRef, before *string, pageSize int) (model.CommentPage, error)
}

var cveRe = regexp.MustCompile(`(?i)^CVE-(\d{4})-(\d{4,})$`)

// CVE is a parsed CVE identifier.
type CVE struct {
	ID     string
	Year   int
	Number string // "2021-44228"
}

// ParseCVE validates id and normalises it to upper case.
func ParseCVE(id string) (CVE, error) {
	m := cveRe.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return CVE{}, &custom_errors.ErrInvalidCVE{CVE: id}
	}
	year, _ := strconv.Atoi(m[1])
	return CVE{
		ID:     "CVE-" + m[1] + "-" + m[2],
		Year:   year,
		Number: m[1] + "-" + m[2],
	}, nil
}

// Mentions reports whether text references the CVE.
func (c CVE) Mentions(text string) bool {
	return strings.Contains(strings.ToUpper(text), "CVE") && strings.Contains(text, c.Number)
}

// ResolveByDate walks the merged pull requests of fork newest-first and
// returns the merge time of the first one whose head repository is
// upstreamID. Dates are not used to stop early: pages are not ordered by
// merge time.
func ResolveByDate(ctx context.Context, src Source, fork model.RepoRef, upstreamID string, pageSize int) (model.PatchDate, error) {
	var before *string
	for {
		page, err := src.FetchPullRequests(ctx, fork, before, pageSize)
		if err != nil {
			return model.Never, fmt.Errorf("pull requests of %s: %w", fork, err)
		}
		for _, pr := range page.Items {
			if pr.Merged && pr.HeadRepositoryID == upstreamID {
				return model.PatchedAt(pr.MergedAt), nil
			}
		}
		if !page.HasPreviousPage || page.StartCursor == nil {
			return model.Never, nil
		}
		before = page.StartCursor
	}
}

// ResolveCVEDate returns the time of the newest upstream issue comment
// mentioning cve. The walk stops once comments predate the CVE's year.
func ResolveCVEDate(ctx context.Context, src Source, upstream model.RepoRef, cve CVE, pageSize int) (time.Time, error) {
	notFound := &custom_errors.CVENotFound{CVE: cve.ID, Repo: upstream.String()}
	var before *string
	for {
		page, err := src.FetchIssueComments(ctx, upstream, before, pageSize)
		if err != nil {
			return time.Time{}, fmt.Errorf("issue comments of %s: %w", upstream, err)
		}
		for _, c := range page.Items {
			if c.CreatedAt.Year() < cve.Year {
				return time.Time{}, notFound
			}
			if cve.Mentions(c.Body) {
				return c.CreatedAt.UTC(), nil
			}
		}
		if !page.HasMore || page.NextCursor == nil {
			return time.Time{}, notFound
		}
		before = page.NextCursor
	}
}

// Classify reports whether a fork with the given patch date is unpatched
// relative to target.
func Classify(date model.PatchDate, target time.Time) bool {
	return date.Before(target)
}

// Effective combines a fork's own patch date with its parent's. A fork
// only counts as patched when the repository it forked from was patched no
// later than the fork itself. Forks of the root take their own date.
func Effective(own, parent model.PatchDate, parentIsRoot bool) model.PatchDate {
	if parentIsRoot {
		return own
	}
	ownAt, ok := own.Time()
	if !ok {
		return model.Never
	}
	parentAt, ok := parent.Time()
	if !ok || parentAt.After(ownAt) {
		return model.Never
	}
	return own
}
