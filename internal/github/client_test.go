// internal/github/client_test.go
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "github-fork-graph/internal/errors"
	"github-fork-graph/internal/model"
	"github-fork-graph/internal/policy"
)

var fixedNow = time.Unix(1_700_000_000, 0)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

// setupTestClient creates a httptest server and a client pointing to it.
// Sleeps are recorded instead of taken.
func setupTestClient(t *testing.T, handler http.Handler, p policy.AutoConfirmPolicy) (*Client, *sleepRecorder) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client, err := NewClient(Options{
		Token:             "test-token",
		GraphQLURL:        server.URL + "/graphql",
		APIURL:            server.URL,
		MaxAttempts:       3,
		SecondaryCooldown: 4 * time.Minute,
		RateLimitSlack:    2 * time.Second,
		MaxUnattendedWait: 15 * time.Minute,
		RequestsPerSecond: 1000,
	}, p, logger)
	require.NoError(t, err)

	rec := &sleepRecorder{}
	client.sleep = rec.sleep
	client.now = func() time.Time { return fixedNow }
	return client, rec
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func decodeGraphQL(t *testing.T, r *http.Request) graphqlRequest {
	var req graphqlRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

const roundResponse = `{"data": {
  "rateLimit": {"cost": 1, "remaining": 4999, "resetAt": "2030-01-01T00:00:00Z"},
  "repository": {
    "stargazers": {
      "nodes": [
        {"login": "alice", "url": "https://github.com/alice", "email": "", "name": "Alice", "company": "Acme", "twitterUsername": null},
        null,
        {"login": "bob", "url": "https://github.com/bob", "email": "", "name": null, "company": null, "twitterUsername": "bobby"}
      ],
      "pageInfo": {"endCursor": "Y3Vyc29yOjE=", "hasNextPage": true}
    },
    "forks": {
      "nodes": [
        {"id": "R_f1", "name": "widget", "url": "https://github.com/megacorp/widget", "isFork": true,
         "pushedAt": "2024-01-01T00:00:00Z",
         "owner": {"__typename": "Organization", "login": "megacorp", "url": "https://github.com/megacorp",
                   "orgEmail": null, "name": "MegaCorp", "websiteUrl": "https://mega.example"}},
        {"id": "R_f2", "name": "widget", "url": "https://github.com/carol/widget", "isFork": true,
         "pushedAt": null,
         "owner": {"__typename": "User", "login": "carol", "url": "https://github.com/carol",
                   "email": "carol@example.com", "name": "Carol", "company": null, "twitterUsername": null}},
        {"id": "R_f3", "name": "widget", "url": "", "isFork": true, "pushedAt": null, "owner": null}
      ],
      "pageInfo": {"endCursor": "Y3Vyc29yOjI=", "hasNextPage": false}
    }
  }
}}`

func TestClient_FetchRound(t *testing.T) {
	var got graphqlRequest
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		got = decodeGraphQL(t, r)
		fmt.Fprint(w, roundResponse)
	})
	client, rec := setupTestClient(t, handler, policy.Always)

	res, err := client.FetchRound(context.Background(), model.RepoRef{Owner: "acme", Name: "widget"}, model.RoundRequest{
		Kinds:    []model.EdgeKind{model.Stargazers, model.Forks},
		Cursors:  model.Cursors{Forks: model.StringPtr("Y3Vyc29yOjA=")},
		PageSize: 100,
	})
	require.NoError(t, err)
	assert.Empty(t, rec.waits)

	t.Run("exhausted kinds are switched off", func(t *testing.T) {
		assert.Equal(t, true, got.Variables["withStargazers"])
		assert.Equal(t, false, got.Variables["withWatchers"])
		assert.Equal(t, true, got.Variables["withForks"])
		assert.Nil(t, got.Variables["stargazerCursor"])
		assert.Equal(t, "Y3Vyc29yOjA=", got.Variables["forkCursor"])
		assert.Contains(t, got.Query, "@include(if: $withWatchers)")
		_, hasWatchers := res.Pages[model.Watchers]
		assert.False(t, hasWatchers)
	})

	t.Run("null stargazers are dropped", func(t *testing.T) {
		page := res.Pages[model.Stargazers]
		require.Len(t, page.Owners, 2)
		assert.Equal(t, 1, page.Dropped)
		assert.Equal(t, 3, page.Fetched())
		assert.Equal(t, "alice", page.Owners[0].Login)
		assert.Equal(t, "Acme", page.Owners[0].User.Company)
		assert.Equal(t, "bobby", page.Owners[1].User.TwitterUsername)
		assert.Equal(t, "Y3Vyc29yOjE=", *page.EndCursor)
		assert.True(t, page.HasNextPage)
	})

	t.Run("forks carry typed owners", func(t *testing.T) {
		page := res.Pages[model.Forks]
		require.Len(t, page.Forks, 2)
		assert.Equal(t, 1, page.Dropped, "a fork without an owner is dropped")
		assert.Equal(t, model.OwnerOrganization, page.Forks[0].Owner.Type)
		assert.Equal(t, "https://mega.example", page.Forks[0].Owner.Organization.WebsiteURL)
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), page.Forks[0].PushedAt.UTC())
		assert.Equal(t, model.OwnerUser, page.Forks[1].Owner.Type)
		assert.Equal(t, "carol@example.com", page.Forks[1].Owner.Email)
		assert.False(t, page.HasNextPage)
	})
}

func TestClient_FetchRound_NoKinds(t *testing.T) {
	var requests int32
	client, _ := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	}), policy.Always)

	res, err := client.FetchRound(context.Background(), model.RepoRef{Owner: "acme", Name: "widget"}, model.RoundRequest{PageSize: 100})
	require.NoError(t, err)
	assert.Empty(t, res.Pages)
	assert.Zero(t, atomic.LoadInt32(&requests))
}

func TestClient_Retry(t *testing.T) {
	ref := model.RepoRef{Owner: "acme", Name: "widget"}
	req := model.RoundRequest{Kinds: []model.EdgeKind{model.Forks}, PageSize: 100}

	t.Run("secondary rate limit sleeps the cooldown", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&requestCount, 1) == 1 {
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, `{"message": "You have exceeded a secondary rate limit. Please wait a few minutes before you try again."}`)
				return
			}
			fmt.Fprint(w, roundResponse)
		})
		client, rec := setupTestClient(t, handler, policy.Always)

		_, err := client.FetchRound(context.Background(), ref, req)
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount))
		assert.Equal(t, []time.Duration{4 * time.Minute}, rec.waits)
	})

	t.Run("primary rate limit sleeps until reset plus slack", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&requestCount, 1) == 1 {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", fixedNow.Add(time.Minute).Unix()))
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, `{"message": "API rate limit exceeded"}`)
				return
			}
			fmt.Fprint(w, roundResponse)
		})
		client, rec := setupTestClient(t, handler, policy.Never)

		_, err := client.FetchRound(context.Background(), ref, req)
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{time.Minute + 2*time.Second}, rec.waits)
	})

	t.Run("rate limit reported inside a GraphQL response", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&requestCount, 1) == 1 {
				w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", fixedNow.Add(30*time.Second).Unix()))
				fmt.Fprint(w, `{"data": null, "errors": [{"type": "RATE_LIMITED", "message": "API rate limit exceeded for user ID 1."}]}`)
				return
			}
			fmt.Fprint(w, roundResponse)
		})
		client, rec := setupTestClient(t, handler, policy.Never)

		_, err := client.FetchRound(context.Background(), ref, req)
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{32 * time.Second}, rec.waits)
	})

	t.Run("retries on 502 server error and succeeds", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&requestCount, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, roundResponse)
		})
		client, rec := setupTestClient(t, handler, policy.Never)

		_, err := client.FetchRound(context.Background(), ref, req)
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount), "should have made two requests")
		assert.Len(t, rec.waits, 1)
	})

	t.Run("fails after max attempts on persistent server error", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusInternalServerError)
		})
		client, _ := setupTestClient(t, handler, policy.Never)

		_, err := client.FetchRound(context.Background(), ref, req)
		require.Error(t, err)
		var transient *custom_errors.TransientFetchError
		require.ErrorAs(t, err, &transient)
		assert.Equal(t, 3, transient.Attempts)
		assert.Equal(t, int32(3), atomic.LoadInt32(&requestCount))
	})

	t.Run("fails after max attempts on persistent rate limit", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message": "You have exceeded a secondary rate limit"}`)
		})
		client, rec := setupTestClient(t, handler, policy.Never)

		_, err := client.FetchRound(context.Background(), ref, req)
		var rateErr *custom_errors.RateLimitExceeded
		require.ErrorAs(t, err, &rateErr)
		assert.True(t, rateErr.Secondary)
		assert.False(t, rateErr.Declined)
		assert.Len(t, rec.waits, 2)
		assert.Equal(t, custom_errors.ExitRateLimited, custom_errors.ExitCode(err))
	})

	t.Run("long waits need consent", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", fixedNow.Add(time.Hour).Unix()))
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message": "API rate limit exceeded"}`)
		})
		var asked policy.Question
		decline := policy.Func(func(_ context.Context, q policy.Question) (bool, error) {
			asked = q
			return false, nil
		})
		client, rec := setupTestClient(t, handler, decline)

		_, err := client.FetchRound(context.Background(), ref, req)
		var rateErr *custom_errors.RateLimitExceeded
		require.ErrorAs(t, err, &rateErr)
		assert.True(t, rateErr.Declined)
		assert.Equal(t, policy.WaitRateLimit, asked.Kind)
		assert.Equal(t, time.Hour+2*time.Second, asked.Wait)
		assert.Empty(t, rec.waits)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
	})

	t.Run("unknown repository is not retried", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			fmt.Fprint(w, `{"data": {"repository": null}, "errors": [{"type": "NOT_FOUND", "message": "Could not resolve to a Repository with the name 'acme/widget'."}]}`)
		})
		client, _ := setupTestClient(t, handler, policy.Never)

		_, err := client.FetchRound(context.Background(), ref, req)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
	})
}

func TestClient_ThrottlesWhenBudgetIsSpent(t *testing.T) {
	reset := fixedNow.Add(10 * time.Second).UTC().Format(time.RFC3339)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data": {"rateLimit": {"cost": 1, "remaining": 0, "resetAt": %q},
		  "repository": {"forks": {"nodes": [], "pageInfo": {"endCursor": null, "hasNextPage": false}}}}}`, reset)
	})
	client, rec := setupTestClient(t, handler, policy.Never)

	_, err := client.FetchPage(context.Background(), model.RepoRef{Owner: "acme", Name: "widget"}, model.Forks, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{12 * time.Second}, rec.waits)
}

func TestClient_FetchPullRequests(t *testing.T) {
	var got graphqlRequest
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = decodeGraphQL(t, r)
		fmt.Fprint(w, `{"data": {
		  "rateLimit": {"cost": 1, "remaining": 4000, "resetAt": "2030-01-01T00:00:00Z"},
		  "repository": {"pullRequests": {
		    "nodes": [
		      {"number": 1, "url": "u1", "merged": true, "mergedAt": "2021-03-01T00:00:00Z",
		       "headRepository": {"id": "R_up", "nameWithOwner": "acme/widget"}, "baseRepository": {"nameWithOwner": "carol/widget"}},
		      {"number": 2, "url": "u2", "merged": true, "mergedAt": "2022-06-01T00:00:00Z",
		       "headRepository": null, "baseRepository": {"nameWithOwner": "carol/widget"}}
		    ],
		    "pageInfo": {"startCursor": "cHI6MQ==", "hasPreviousPage": true}}}}}`)
	})
	client, _ := setupTestClient(t, handler, policy.Never)

	page, err := client.FetchPullRequests(context.Background(), model.RepoRef{Owner: "carol", Name: "widget"}, model.StringPtr("cHI6Mw=="), 50)
	require.NoError(t, err)

	assert.Equal(t, "cHI6Mw==", got.Variables["before"])
	assert.EqualValues(t, 50, got.Variables["last"])
	require.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Items[0].Number, "newest first")
	assert.Empty(t, page.Items[0].HeadRepositoryID)
	assert.Equal(t, "R_up", page.Items[1].HeadRepositoryID)
	assert.Equal(t, "cHI6MQ==", *page.StartCursor)
	assert.True(t, page.HasPreviousPage)
}

func TestClient_FetchRepository(t *testing.T) {
	t.Run("maps the parent and totals", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/repos/carol/widget", r.URL.Path)
			fmt.Fprint(w, `{"id": 7, "node_id": "R_f2", "name": "widget", "html_url": "https://github.com/carol/widget",
			  "fork": true, "stargazers_count": 3, "forks_count": 1, "subscribers_count": 2,
			  "owner": {"login": "carol", "type": "User", "html_url": "https://github.com/carol"},
			  "parent": {"id": 1, "node_id": "R_up", "name": "widget", "owner": {"login": "acme", "type": "Organization"}}}`)
		})
		client, _ := setupTestClient(t, handler, policy.Never)

		info, err := client.FetchRepository(context.Background(), model.RepoRef{Owner: "carol", Name: "widget"})
		require.NoError(t, err)
		assert.Equal(t, "R_f2", info.ID)
		assert.True(t, info.IsFork)
		assert.Equal(t, model.OwnerUser, info.Owner.Type)
		require.NotNil(t, info.Parent)
		assert.Equal(t, "acme/widget", info.Parent.String())
		assert.Equal(t, 3, info.StargazerCount)
		assert.Equal(t, 2, info.WatcherCount)
	})

	t.Run("unknown repository", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message": "Not Found"}`)
		})
		client, _ := setupTestClient(t, handler, policy.Never)

		_, err := client.FetchRepository(context.Background(), model.RepoRef{Owner: "carol", Name: "gone"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestClient_FetchIssueComments(t *testing.T) {
	var serverURL string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widget/issues/comments", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "created", q.Get("sort"))
		assert.Equal(t, "desc", q.Get("direction"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "50", q.Get("per_page"))
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/widget/issues/comments?page=3>; rel="next"`, serverURL))
		fmt.Fprint(w, `[
		  {"id": 11, "html_url": "c11", "body": "Fixed CVE-2023-1234 in this release", "created_at": "2023-05-01T00:00:00Z"},
		  {"id": 10, "html_url": "c10", "body": "unrelated", "created_at": "2023-04-01T00:00:00Z"}
		]`)
	})
	server := httptest.NewServer(handler)
	defer server.Close()
	serverURL = server.URL

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	client, err := NewClient(Options{Token: "t", APIURL: server.URL, MaxAttempts: 1, RequestsPerSecond: 1000}, policy.Never, logger)
	require.NoError(t, err)

	page, err := client.FetchIssueComments(context.Background(), model.RepoRef{Owner: "acme", Name: "widget"}, model.StringPtr("2"), 50)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(11), page.Items[0].ID)
	assert.True(t, page.HasMore)
	assert.Equal(t, "3", *page.NextCursor)
}
