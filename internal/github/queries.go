// internal/github/queries.go
package github

import "github.com/shurcooL/githubv4"

type rateLimitInfo struct {
	Cost      githubv4.Int
	Remaining githubv4.Int
	ResetAt   githubv4.DateTime
}

type pageInfo struct {
	EndCursor   *githubv4.String
	HasNextPage githubv4.Boolean
}

// userNode is a stargazer or watcher. Deleted accounts come back as null.
type userNode struct {
	Login           githubv4.String
	URL             githubv4.String
	Email           githubv4.String
	Name            *githubv4.String
	Company         *githubv4.String
	TwitterUsername *githubv4.String
}

type ownerNode struct {
	Typename githubv4.String `graphql:"__typename"`
	Login    githubv4.String
	URL      githubv4.String
	User     struct {
		Email           githubv4.String
		Name            *githubv4.String
		Company         *githubv4.String
		TwitterUsername *githubv4.String
	} `graphql:"... on User"`
	// email is String! on User and String on Organization, so the two
	// selections cannot share a response name.
	Organization struct {
		Email      *githubv4.String `graphql:"orgEmail: email"`
		Name       *githubv4.String
		WebsiteURL *githubv4.String
	} `graphql:"... on Organization"`
}

type forkNode struct {
	ID       githubv4.String
	Name     githubv4.String
	URL      githubv4.String
	IsFork   githubv4.Boolean
	PushedAt *githubv4.DateTime
	Owner    *ownerNode
}

type userConnection struct {
	Nodes    []*userNode
	PageInfo pageInfo
}

// roundQuery fetches the next page of every kind still paging; the others
// are switched off with @include so they cost nothing.
type roundQuery struct {
	RateLimit  rateLimitInfo
	Repository struct {
		Stargazers userConnection `graphql:"stargazers(first: $first, after: $stargazerCursor) @include(if: $withStargazers)"`
		Watchers   userConnection `graphql:"watchers(first: $first, after: $watcherCursor) @include(if: $withWatchers)"`
		Forks      struct {
			Nodes    []*forkNode
			PageInfo pageInfo
		} `graphql:"forks(first: $first, after: $forkCursor) @include(if: $withForks)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

type pullRequestNode struct {
	Number         githubv4.Int
	URL            githubv4.String
	Merged         githubv4.Boolean
	MergedAt       *githubv4.DateTime
	HeadRepository *struct {
		ID            githubv4.String
		NameWithOwner githubv4.String
	}
	BaseRepository *struct {
		NameWithOwner githubv4.String
	}
}

// pullRequestQuery walks merged pull requests backwards from the newest.
type pullRequestQuery struct {
	RateLimit  rateLimitInfo
	Repository struct {
		PullRequests struct {
			Nodes    []*pullRequestNode
			PageInfo struct {
				StartCursor     *githubv4.String
				HasPreviousPage githubv4.Boolean
			}
		} `graphql:"pullRequests(last: $last, before: $before, states: MERGED)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

func cursorVar(c *string) *githubv4.String {
	if c == nil {
		return nil
	}
	return githubv4.NewString(githubv4.String(*c))
}

func fromCursor(c *githubv4.String) *string {
	if c == nil || *c == "" {
		return nil
	}
	s := string(*c)
	return &s
}

func str(s *githubv4.String) string {
	if s == nil {
		return ""
	}
	return string(*s)
}
