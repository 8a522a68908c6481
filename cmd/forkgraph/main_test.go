// cmd/forkgraph/main_test.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-fork-graph/internal/app"
	"github-fork-graph/internal/config"
	custom_errors "github-fork-graph/internal/errors"
)

const roundJSON = `{"data": {
  "rateLimit": {"cost": 1, "remaining": 4999, "resetAt": "2030-01-01T00:00:00Z"},
  "repository": {
    "stargazers": {
      "nodes": [{"login": "alice", "url": "https://github.com/alice", "email": "", "name": "Alice", "company": null, "twitterUsername": null}],
      "pageInfo": {"endCursor": "s1", "hasNextPage": false}
    },
    "watchers": {"nodes": [], "pageInfo": {"endCursor": null, "hasNextPage": false}},
    "forks": {
      "nodes": [
        {"id": "R_org", "name": "widget", "url": "https://github.com/initech/widget", "isFork": true, "pushedAt": null,
         "owner": {"__typename": "Organization", "login": "initech", "url": "https://github.com/initech",
                   "orgEmail": null, "name": "Initech", "websiteUrl": null}},
        {"id": "R_bob", "name": "widget", "url": "https://github.com/bob/widget", "isFork": true, "pushedAt": null,
         "owner": {"__typename": "User", "login": "bob", "url": "https://github.com/bob",
                   "email": "", "name": null, "company": null, "twitterUsername": null}}
      ],
      "pageInfo": {"endCursor": "f1", "hasNextPage": false}
    }
  }
}}`

func fakeGitHub(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widget", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"node_id": "R_up", "name": "widget", "fork": false,
			"html_url": "https://github.com/acme/widget",
			"stargazers_count": 2, "forks_count": 2, "subscribers_count": 0,
			"owner": {"login": "acme", "type": "Organization"}}`)
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, roundJSON)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// testCLI shares one in-memory app between commands so that later commands
// see what earlier ones wrote.
func testCLI(t *testing.T) (*cli, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	gh := fakeGitHub(t)
	cfg := &config.Config{
		LogLevel:          "error",
		GithubToken:       "test-token",
		GithubGraphQLURL:  gh.URL + "/graphql",
		GithubAPIURL:      gh.URL,
		PageSize:          100,
		StallLimit:        3,
		FetchMaxAttempts:  1,
		SyncConcurrency:   2,
		RequestsPerSecond: 1000,
	}

	var shared *app.App
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	c := &cli{
		in:         strings.NewReader(""),
		out:        out,
		errOut:     errOut,
		loadConfig: func() (*config.Config, error) { return cfg, nil },
		openApp: func(ctx context.Context, cfg *config.Config, opts app.Options, logger *slog.Logger) (*app.App, error) {
			if shared == nil {
				opts.InMemory, opts.NoRunLog = true, true
				a, err := app.New(ctx, cfg, opts, logger)
				if err != nil {
					return nil, err
				}
				shared = a
			}
			return shared, nil
		},
	}
	return c, out, errOut
}

func run(t *testing.T, c *cli, out *bytes.Buffer, args ...string) (int, string) {
	t.Helper()
	out.Reset()
	c.yes, c.asJSON, c.logLevel = false, false, ""
	code := c.execute(context.Background(), args)
	return code, out.String()
}

func TestCLI_SyncThenQuery(t *testing.T) {
	c, out, _ := testCLI(t)

	code, text := run(t, c, out, "sync", "--dry-run", "acme/widget")
	require.Equal(t, 0, code)
	assert.Contains(t, text, "acme/widget")

	t.Run("info without GitHub", func(t *testing.T) {
		code, text := run(t, c, out, "info", "--offline", "--json", "acme/widget")
		require.Equal(t, 0, code)
		var info struct {
			ID    string
			Local struct{ Stargazers, Forks int }
		}
		require.NoError(t, json.Unmarshal([]byte(text), &info))
		assert.Equal(t, "R_up", info.ID)
		assert.Equal(t, 1, info.Local.Stargazers)
		assert.Equal(t, 2, info.Local.Forks)
	})

	t.Run("info with coverage", func(t *testing.T) {
		code, text := run(t, c, out, "info", "acme/widget")
		require.Equal(t, 0, code)
		assert.Contains(t, text, "Coverage")
		assert.Contains(t, text, "50.0%")
	})

	t.Run("forks", func(t *testing.T) {
		code, text := run(t, c, out, "forks", "--json", "acme/widget")
		require.Equal(t, 0, code)
		var forks []map[string]any
		require.NoError(t, json.Unmarshal([]byte(text), &forks))
		assert.Len(t, forks, 2)
	})

	t.Run("top organizations", func(t *testing.T) {
		code, text := run(t, c, out, "top-orgs", "--json", "-n", "5", "acme/widget")
		require.Equal(t, 0, code)
		var forks []struct{ Repo string }
		require.NoError(t, json.Unmarshal([]byte(text), &forks))
		require.Len(t, forks, 1)
		assert.Equal(t, "initech/widget", forks[0].Repo)
	})

	t.Run("stored unpatched report", func(t *testing.T) {
		code, text := run(t, c, out, "unpatched", "--stored", "--date", "2024-01-01", "--json", "acme/widget")
		require.Equal(t, 0, code)
		var report struct {
			Forks []struct {
				Repo      string
				Unpatched bool
			}
		}
		require.NoError(t, json.Unmarshal([]byte(text), &report))
		require.Len(t, report.Forks, 2)
		for _, f := range report.Forks {
			assert.True(t, f.Unpatched, f.Repo)
		}
	})

	t.Run("delete needs confirmation", func(t *testing.T) {
		code, _ := run(t, c, out, "delete", "acme/widget")
		assert.Equal(t, custom_errors.ExitInvalidInput, code)
	})

	t.Run("delete", func(t *testing.T) {
		code, text := run(t, c, out, "delete", "--yes", "--json", "acme/widget")
		require.Equal(t, 0, code)
		var body struct{ Deleted int }
		require.NoError(t, json.Unmarshal([]byte(text), &body))
		assert.Positive(t, body.Deleted)

		code, _ = run(t, c, out, "forks", "acme/widget")
		assert.Equal(t, custom_errors.ExitEmptyDB, code)
	})
}

func TestCLI_InvalidInput(t *testing.T) {
	c, out, errOut := testCLI(t)

	cases := []struct {
		name string
		args []string
		want int
	}{
		{"malformed repository", []string{"forks", "acme"}, custom_errors.ExitInvalidInput},
		{"missing repository", []string{"info"}, custom_errors.ExitInvalidInput},
		{"sync without repositories", []string{"sync"}, custom_errors.ExitInvalidInput},
		{"unknown flag", []string{"forks", "--bogus", "acme/widget"}, custom_errors.ExitInvalidInput},
		{"no target", []string{"unpatched", "acme/widget"}, custom_errors.ExitInvalidInput},
		{"both targets", []string{"unpatched", "--date", "2024-01-01", "--cve", "CVE-2021-44228", "acme/widget"}, custom_errors.ExitInvalidInput},
		{"bad date", []string{"unpatched", "--date", "yesterday", "acme/widget"}, custom_errors.ExitInvalidInput},
		{"bad cve", []string{"unpatched", "--cve", "CVE-21-1", "acme/widget"}, custom_errors.ExitInvalidInput},
		{"stored cve", []string{"unpatched", "--stored", "--cve", "CVE-2021-44228", "acme/widget"}, custom_errors.ExitInvalidInput},
		{"zero limit", []string{"top-orgs", "-n", "0", "acme/widget"}, custom_errors.ExitInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errOut.Reset()
			code, _ := run(t, c, out, tc.args...)
			assert.Equal(t, tc.want, code)
			assert.Contains(t, errOut.String(), "Error:")
		})
	}
}

func TestCLI_EmptyGraph(t *testing.T) {
	c, out, _ := testCLI(t)
	code, _ := run(t, c, out, "top-orgs", "acme/widget")
	assert.Equal(t, custom_errors.ExitEmptyDB, code)
}

func TestCLI_HistoryWithoutRunLog(t *testing.T) {
	c, out, errOut := testCLI(t)
	code, _ := run(t, c, out, "history")
	assert.Equal(t, custom_errors.ExitFailure, code)
	assert.Contains(t, errOut.String(), "DB_URL")
}
