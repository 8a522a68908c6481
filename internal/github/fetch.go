// internal/github/fetch.go
package github

import (
	"context"
	"fmt"
	"strings"

	"github.com/shurcooL/githubv4"

	"github-fork-graph/internal/metrics"
	"github-fork-graph/internal/model"
)

// FetchRound fetches the next page of every kind in req with a single
// GraphQL call. Null and incomplete entries are dropped.
func (c *Client) FetchRound(ctx context.Context, ref model.RepoRef, req model.RoundRequest) (model.RoundResult, error) {
	result := model.RoundResult{Pages: make(map[model.EdgeKind]model.Page, len(req.Kinds))}
	if len(req.Kinds) == 0 {
		return result, nil
	}

	op := fmt.Sprintf("fetch round %s [%s]", ref, joinKinds(req.Kinds))
	var q roundQuery
	err := c.do(ctx, op, func(ctx context.Context) error {
		q = roundQuery{}
		vars := map[string]any{
			"owner":           githubv4.String(ref.Owner),
			"name":            githubv4.String(ref.Name),
			"first":           githubv4.Int(req.PageSize),
			"withStargazers":  githubv4.Boolean(req.Includes(model.Stargazers)),
			"withWatchers":    githubv4.Boolean(req.Includes(model.Watchers)),
			"withForks":       githubv4.Boolean(req.Includes(model.Forks)),
			"stargazerCursor": cursorVar(req.Cursors.Stargazers),
			"watcherCursor":   cursorVar(req.Cursors.Watchers),
			"forkCursor":      cursorVar(req.Cursors.Forks),
		}
		return c.gql.Query(ctx, &q, vars)
	})
	if err != nil {
		return result, notFound(ref, err)
	}

	for _, kind := range req.Kinds {
		var page model.Page
		switch kind {
		case model.Stargazers:
			page = c.ownerPage(kind, q.Repository.Stargazers)
		case model.Watchers:
			page = c.ownerPage(kind, q.Repository.Watchers)
		case model.Forks:
			page = c.forkPage(q.Repository.Forks.Nodes, q.Repository.Forks.PageInfo)
		}
		metrics.PagesFetched.WithLabelValues(string(kind)).Inc()
		result.Pages[kind] = page
	}

	c.logger.Debug("fetched round", "repo", ref.String(), "kinds", joinKinds(req.Kinds),
		"cost", int(q.RateLimit.Cost), "remaining", int(q.RateLimit.Remaining))
	if err := c.throttle(ctx, op, q.RateLimit); err != nil {
		return result, err
	}
	return result, nil
}

// FetchPage is the single-kind form of FetchRound.
func (c *Client) FetchPage(ctx context.Context, ref model.RepoRef, kind model.EdgeKind, after *string, pageSize int) (model.Page, error) {
	var cursors model.Cursors
	cursors.Set(kind, after)
	res, err := c.FetchRound(ctx, ref, model.RoundRequest{
		Kinds:    []model.EdgeKind{kind},
		Cursors:  cursors,
		PageSize: pageSize,
	})
	if err != nil {
		return model.Page{}, err
	}
	return res.Pages[kind], nil
}

// FetchPullRequests returns merged pull requests of ref newest-first,
// continuing backwards from before.
func (c *Client) FetchPullRequests(ctx context.Context, ref model.RepoRef, before *string, pageSize int) (model.PullRequestPage, error) {
	op := fmt.Sprintf("fetch pull requests %s", ref)
	var q pullRequestQuery
	err := c.do(ctx, op, func(ctx context.Context) error {
		q = pullRequestQuery{}
		vars := map[string]any{
			"owner":  githubv4.String(ref.Owner),
			"name":   githubv4.String(ref.Name),
			"last":   githubv4.Int(pageSize),
			"before": cursorVar(before),
		}
		return c.gql.Query(ctx, &q, vars)
	})
	if err != nil {
		return model.PullRequestPage{}, notFound(ref, err)
	}

	conn := q.Repository.PullRequests
	page := model.PullRequestPage{
		StartCursor:     fromCursor(conn.PageInfo.StartCursor),
		HasPreviousPage: bool(conn.PageInfo.HasPreviousPage),
	}
	// The connection is oldest-first within a page.
	for i := len(conn.Nodes) - 1; i >= 0; i-- {
		n := conn.Nodes[i]
		if n == nil {
			continue
		}
		pr := model.PullRequestRecord{
			Number: int(n.Number),
			URL:    string(n.URL),
			Merged: bool(n.Merged),
		}
		if n.MergedAt != nil {
			pr.MergedAt = n.MergedAt.Time
		}
		if n.HeadRepository != nil {
			pr.HeadRepositoryID = string(n.HeadRepository.ID)
			pr.HeadNameWithOwner = string(n.HeadRepository.NameWithOwner)
		}
		if n.BaseRepository != nil {
			pr.BaseNameWithOwner = string(n.BaseRepository.NameWithOwner)
		}
		page.Items = append(page.Items, pr)
	}

	if err := c.throttle(ctx, op, q.RateLimit); err != nil {
		return page, err
	}
	return page, nil
}

func (c *Client) ownerPage(kind model.EdgeKind, conn userConnection) model.Page {
	page := model.Page{
		Kind:        kind,
		EndCursor:   fromCursor(conn.PageInfo.EndCursor),
		HasNextPage: bool(conn.PageInfo.HasNextPage),
	}
	dropped := 0
	for _, n := range conn.Nodes {
		owner, ok := toInternalUser(n)
		if !ok {
			dropped++
			continue
		}
		page.Owners = append(page.Owners, owner)
	}
	page.Dropped = dropped
	c.recordDropped(kind, dropped)
	return page
}

func (c *Client) forkPage(nodes []*forkNode, info pageInfo) model.Page {
	page := model.Page{
		Kind:        model.Forks,
		EndCursor:   fromCursor(info.EndCursor),
		HasNextPage: bool(info.HasNextPage),
	}
	dropped := 0
	for _, n := range nodes {
		fork, ok := toInternalFork(n)
		if !ok {
			dropped++
			continue
		}
		page.Forks = append(page.Forks, fork)
	}
	page.Dropped = dropped
	c.recordDropped(model.Forks, dropped)
	return page
}

func (c *Client) recordDropped(kind model.EdgeKind, n int) {
	if n == 0 {
		return
	}
	metrics.NullEntriesDropped.WithLabelValues(string(kind)).Add(float64(n))
	c.logger.Debug("dropped null entries", "kind", string(kind), "count", n)
}

// toInternalUser translates a stargazer or watcher node to an Owner.
func toInternalUser(n *userNode) (model.Owner, bool) {
	if n == nil || n.Login == "" {
		return model.Owner{}, false
	}
	o := model.NewUser(string(n.Login), model.UserFields{
		Company:         str(n.Company),
		TwitterUsername: str(n.TwitterUsername),
	})
	o.URL = string(n.URL)
	o.Email = string(n.Email)
	o.Name = str(n.Name)
	return o, true
}

// toInternalOwner dispatches on __typename.
func toInternalOwner(n *ownerNode) (model.Owner, bool) {
	if n == nil || n.Login == "" {
		return model.Owner{}, false
	}
	var o model.Owner
	switch model.OwnerType(n.Typename) {
	case model.OwnerOrganization:
		o = model.NewOrganization(string(n.Login), model.OrganizationFields{
			WebsiteURL: str(n.Organization.WebsiteURL),
		})
		o.Email = str(n.Organization.Email)
		o.Name = str(n.Organization.Name)
	case model.OwnerUser:
		o = model.NewUser(string(n.Login), model.UserFields{
			Company:         str(n.User.Company),
			TwitterUsername: str(n.User.TwitterUsername),
		})
		o.Email = string(n.User.Email)
		o.Name = str(n.User.Name)
	default:
		return model.Owner{}, false
	}
	o.URL = string(n.URL)
	return o, true
}

func toInternalFork(n *forkNode) (model.ForkRecord, bool) {
	if n == nil || n.ID == "" {
		return model.ForkRecord{}, false
	}
	owner, ok := toInternalOwner(n.Owner)
	if !ok {
		return model.ForkRecord{}, false
	}
	repo := model.Repository{
		ID:     string(n.ID),
		Name:   string(n.Name),
		URL:    string(n.URL),
		IsFork: bool(n.IsFork),
		Owner:  owner,
	}
	if n.PushedAt != nil {
		repo.PushedAt = n.PushedAt.Time
	}
	return model.ForkRecord{Repository: repo}, true
}

func notFound(ref model.RepoRef, err error) error {
	if strings.Contains(err.Error(), "Could not resolve to a Repository") {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return err
}

func joinKinds(kinds []model.EdgeKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}
