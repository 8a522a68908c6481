// internal/github/rest.go
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/go-github/v62/github"

	"github-fork-graph/internal/model"
)

// FetchRepository fetches repository details and translates them to our internal model.
func (c *Client) FetchRepository(ctx context.Context, ref model.RepoRef) (model.RepositoryInfo, error) {
	var repo *github.Repository
	err := c.do(ctx, "fetch repository "+ref.String(), func(ctx context.Context) error {
		var err error
		repo, _, err = c.rest.Repositories.Get(ctx, ref.Owner, ref.Name)
		return err
	})
	if err != nil {
		return model.RepositoryInfo{}, restNotFound(ref, err)
	}
	return toInternalRepository(repo), nil
}

// FetchIssueComments returns issue and pull request comments of the whole
// repository newest-first. The cursor is the REST page number.
func (c *Client) FetchIssueComments(ctx context.Context, ref model.RepoRef, before *string, pageSize int) (model.CommentPage, error) {
	page := 1
	if before != nil {
		n, err := strconv.Atoi(*before)
		if err != nil || n < 1 {
			return model.CommentPage{}, fmt.Errorf("invalid comment cursor %q", *before)
		}
		page = n
	}

	opts := &github.IssueListCommentsOptions{
		Sort:      github.String("created"),
		Direction: github.String("desc"),
		ListOptions: github.ListOptions{
			Page:    page,
			PerPage: pageSize,
		},
	}

	var (
		comments []*github.IssueComment
		resp     *github.Response
	)
	op := fmt.Sprintf("fetch issue comments %s page %d", ref, page)
	err := c.do(ctx, op, func(ctx context.Context) error {
		var err error
		// Issue number 0 lists the comments of every issue in the repository.
		comments, resp, err = c.rest.Issues.ListComments(ctx, ref.Owner, ref.Name, 0, opts)
		return err
	})
	if err != nil {
		return model.CommentPage{}, restNotFound(ref, err)
	}

	out := model.CommentPage{Items: make([]model.IssueCommentRecord, 0, len(comments))}
	for _, cm := range comments {
		if cm == nil {
			continue
		}
		out.Items = append(out.Items, toInternalComment(cm))
	}
	if resp != nil && resp.NextPage != 0 {
		out.NextCursor = model.StringPtr(strconv.Itoa(resp.NextPage))
		out.HasMore = true
	}
	return out, nil
}

// toInternalRepository translates a github.Repository object to our internal model.
func toInternalRepository(r *github.Repository) model.RepositoryInfo {
	info := model.RepositoryInfo{
		Repository: model.Repository{
			ID:       r.GetNodeID(),
			Name:     r.GetName(),
			URL:      r.GetHTMLURL(),
			IsFork:   r.GetFork(),
			PushedAt: r.GetPushedAt().Time,
			Owner:    toInternalRESTOwner(r.GetOwner()),
		},
		StargazerCount: r.GetStargazersCount(),
		ForkCount:      r.GetForksCount(),
		WatcherCount:   r.GetSubscribersCount(),
	}
	if p := r.GetParent(); p != nil {
		info.Parent = &model.RepoRef{Owner: p.GetOwner().GetLogin(), Name: p.GetName()}
	}
	return info
}

func toInternalRESTOwner(u *github.User) model.Owner {
	var o model.Owner
	if u.GetType() == string(model.OwnerOrganization) {
		o = model.NewOrganization(u.GetLogin(), model.OrganizationFields{})
	} else {
		o = model.NewUser(u.GetLogin(), model.UserFields{})
	}
	o.URL = u.GetHTMLURL()
	o.Email = u.GetEmail()
	o.Name = u.GetName()
	return o
}

func toInternalComment(c *github.IssueComment) model.IssueCommentRecord {
	return model.IssueCommentRecord{
		ID:        c.GetID(),
		URL:       c.GetHTMLURL(),
		Body:      c.GetBody(),
		CreatedAt: c.GetCreatedAt().Time,
	}
}

func restNotFound(ref model.RepoRef, err error) error {
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return err
}
