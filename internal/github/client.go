// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github-fork-graph/internal/config"
	"github-fork-graph/internal/policy"
)

// ErrNotFound is returned when the remote source does not know a repository.
var ErrNotFound = errors.New("repository not found")

// Options configure a Client.
type Options struct {
	Token      string
	GraphQLURL string
	APIURL     string

	MaxAttempts       int
	SecondaryCooldown time.Duration
	RateLimitSlack    time.Duration
	MaxUnattendedWait time.Duration
	RequestsPerSecond float64

	// BaseTransport is the transport under the rate-limit and auth layers.
	BaseTransport http.RoundTripper
}

// OptionsFromConfig maps the application configuration onto client options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Token:             cfg.GithubToken,
		GraphQLURL:        cfg.GithubGraphQLURL,
		APIURL:            cfg.GithubAPIURL,
		MaxAttempts:       cfg.FetchMaxAttempts,
		SecondaryCooldown: cfg.SecondaryRateLimitCooldown,
		RateLimitSlack:    cfg.RateLimitSlack,
		MaxUnattendedWait: cfg.MaxUnattendedWait,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}
}

// Client talks to the GitHub GraphQL API for paginated edges and pull
// requests, and to the REST API for repository metadata and comments.
type Client struct {
	gql       *githubv4.Client
	rest      *github.Client
	transport *rateLimitTransport
	limiter   *rate.Limiter
	policy    policy.AutoConfirmPolicy
	opts      Options
	logger    *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(opts Options, p policy.AutoConfirmPolicy, logger *slog.Logger) (*Client, error) {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}
	if p == nil {
		p = policy.Never
	}

	transport := newRateLimitTransport(opts.BaseTransport)
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: transport})
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: opts.Token},
	)
	tc := oauth2.NewClient(ctx, ts)

	gqlURL := opts.GraphQLURL
	if gqlURL == "" {
		gqlURL = "https://api.github.com/graphql"
	}

	rest := github.NewClient(tc)
	if opts.APIURL != "" {
		base := opts.APIURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", opts.APIURL, err)
		}
		rest.BaseURL = u
	}

	return &Client{
		gql:       githubv4.NewEnterpriseClient(gqlURL, tc),
		rest:      rest,
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		policy:    p,
		opts:      opts,
		logger:    logger.With("component", "github"),
		sleep:     sleepContext,
		now:       time.Now,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
