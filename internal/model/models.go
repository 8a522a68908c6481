// internal/model/models.go
package model

import (
	"fmt"
	"strings"
	"time"

	custom_errors "github-fork-graph/internal/errors"
)

// Node labels and relationship types used in the graph.
const (
	LabelOwner        = "Owner"
	LabelUser         = "User"
	LabelOrganization = "Organization"
	LabelRepository   = "Repository"

	RelOwn   = "OWN"
	RelStar  = "STAR"
	RelWatch = "WATCH"
	RelFork  = "FORK"
)

// RepoRef names a repository on the remote source as owner/name.
type RepoRef struct {
	Owner string
	Name  string
}

func (r RepoRef) String() string {
	return r.Owner + "/" + r.Name
}

// MarshalText encodes r as owner/name.
func (r RepoRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseRepoRef parses an "owner/name" string.
func ParseRepoRef(s string) (RepoRef, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepoRef{}, &custom_errors.ErrInvalidRepoFormat{Repo: s}
	}
	return RepoRef{Owner: parts[0], Name: parts[1]}, nil
}

// Repository is a repository node. ID is the stable remote id and never
// changes when the repository is renamed or transferred.
type Repository struct {
	ID       string
	Name     string
	URL      string
	IsFork   bool
	PushedAt time.Time
	Owner    Owner
}

// Ref returns the owner/name reference of the repository.
func (r Repository) Ref() RepoRef {
	return RepoRef{Owner: r.Owner.Login, Name: r.Name}
}

// ForkRecord is one entry of a forks page.
type ForkRecord struct {
	Repository
}

// RepositoryInfo is the live metadata of a repository as reported by the
// remote source. The totals are informational only; counts shown to users
// come from live edges.
type RepositoryInfo struct {
	Repository
	Parent         *RepoRef
	StargazerCount int
	ForkCount      int
	WatcherCount   int
}

// EdgeKind is one of the three paginated relationships of a repository.
type EdgeKind string

const (
	Stargazers EdgeKind = "stargazers"
	Watchers   EdgeKind = "watchers"
	Forks      EdgeKind = "forks"
)

// EdgeKinds lists every kind in the order they are processed.
var EdgeKinds = []EdgeKind{Stargazers, Watchers, Forks}

// Rel returns the relationship type written for the kind.
func (k EdgeKind) Rel() string {
	switch k {
	case Stargazers:
		return RelStar
	case Watchers:
		return RelWatch
	case Forks:
		return RelFork
	}
	return ""
}

// CursorField returns the Repository property holding the kind's cursor.
func (k EdgeKind) CursorField() string {
	switch k {
	case Stargazers:
		return "stargazer_cursor"
	case Watchers:
		return "watcher_cursor"
	case Forks:
		return "fork_cursor"
	}
	return ""
}

// ParseEdgeKind accepts the plural kind names.
func ParseEdgeKind(s string) (EdgeKind, error) {
	switch EdgeKind(strings.ToLower(s)) {
	case Stargazers:
		return Stargazers, nil
	case Watchers:
		return Watchers, nil
	case Forks:
		return Forks, nil
	}
	return "", fmt.Errorf("unknown edge kind %q", s)
}

// Page is one page of a paginated edge kind. Owners is filled for
// stargazers and watchers, Forks for forks. Tombstoned entries have
// already been removed and are counted in Dropped.
type Page struct {
	Kind        EdgeKind
	Owners      []Owner
	Forks       []ForkRecord
	Dropped     int
	EndCursor   *string
	HasNextPage bool
}

// Len returns the number of records in the page.
func (p Page) Len() int {
	if p.Kind == Forks {
		return len(p.Forks)
	}
	return len(p.Owners)
}

// Fetched returns the number of entries the remote source returned,
// tombstones included. A page of tombstones still moves the cursor.
func (p Page) Fetched() int {
	return p.Len() + p.Dropped
}

// Counts are aggregate edge counts for a repository.
type Counts struct {
	Stargazers int
	Watchers   int
	Forks      int
}

// Get returns the count for kind.
func (c Counts) Get(kind EdgeKind) int {
	switch kind {
	case Stargazers:
		return c.Stargazers
	case Watchers:
		return c.Watchers
	case Forks:
		return c.Forks
	}
	return 0
}

// Add increments the count for kind.
func (c *Counts) Add(kind EdgeKind, n int) {
	switch kind {
	case Stargazers:
		c.Stargazers += n
	case Watchers:
		c.Watchers += n
	case Forks:
		c.Forks += n
	}
}

// Cursors hold one nullable pagination cursor per edge kind.
type Cursors struct {
	Stargazers *string
	Watchers   *string
	Forks      *string
}

// Get returns the cursor for kind, nil when the kind was never paged.
func (c Cursors) Get(kind EdgeKind) *string {
	switch kind {
	case Stargazers:
		return c.Stargazers
	case Watchers:
		return c.Watchers
	case Forks:
		return c.Forks
	}
	return nil
}

// Set replaces the cursor for kind.
func (c *Cursors) Set(kind EdgeKind, cursor *string) {
	switch kind {
	case Stargazers:
		c.Stargazers = cursor
	case Watchers:
		c.Watchers = cursor
	case Forks:
		c.Forks = cursor
	}
}

// RepoState is the persisted sync state of a repository.
type RepoState struct {
	Counts  Counts
	Cursors Cursors
}

// PullRequestRecord is a pull request of a fork as needed for patch resolution.
type PullRequestRecord struct {
	Number            int
	URL               string
	Merged            bool
	MergedAt          time.Time
	HeadRepositoryID  string
	HeadNameWithOwner string
	BaseNameWithOwner string
}

// PullRequestPage is a page of pull requests walked newest-first.
// StartCursor continues the walk backwards.
type PullRequestPage struct {
	Items           []PullRequestRecord
	StartCursor     *string
	HasPreviousPage bool
}

// IssueCommentRecord is a comment on an issue or pull request.
type IssueCommentRecord struct {
	ID        int64
	URL       string
	Body      string
	CreatedAt time.Time
}

// CommentPage is a page of issue comments walked newest-first.
type CommentPage struct {
	Items      []IssueCommentRecord
	NextCursor *string
	HasMore    bool
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// RoundRequest asks for the next page of each listed kind in one remote
// call. Kinds that are already exhausted are left out.
type RoundRequest struct {
	Kinds    []EdgeKind
	Cursors  Cursors
	PageSize int
}

// Includes reports whether kind is part of the request.
func (r RoundRequest) Includes(kind EdgeKind) bool {
	for _, k := range r.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// RoundResult holds one page per requested kind.
type RoundResult struct {
	Pages map[EdgeKind]Page
}
