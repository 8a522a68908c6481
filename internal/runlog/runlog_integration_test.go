//go:build integration

// internal/runlog/runlog_integration_test.go
package runlog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github-fork-graph/internal/model"
)

func setupTestDatabase(ctx context.Context, t *testing.T) *Store {
	t.Helper()
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("forkgraph"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(context.Background()))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, Migrate(connStr, "../../migrations"))
	// A second run is a no-op.
	require.NoError(t, Migrate(connStr, "../../migrations"))

	store, err := Open(ctx, connStr, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	store := setupTestDatabase(ctx, t)

	first, err := store.Start(ctx, "acme/widget", KindSync)
	require.NoError(t, err)
	require.NoError(t, store.Finish(ctx, first, Outcome{
		Status: StatusSucceeded,
		Rounds: 2,
		Counts: model.Counts{Stargazers: 5, Watchers: 1, Forks: 3},
	}))

	second, err := store.Start(ctx, "acme/widget", KindPatch)
	require.NoError(t, err)
	require.NoError(t, store.Finish(ctx, second, Outcome{Status: StatusFailed, Err: errors.New("boom")}))

	_, err = store.Start(ctx, "other/repo", KindSync)
	require.NoError(t, err)

	t.Run("filters by repository newest first", func(t *testing.T) {
		runs, err := store.Recent(ctx, "acme/widget", 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, second, runs[0].ID)
		assert.Equal(t, StatusFailed, runs[0].Status)
		assert.Equal(t, "boom", runs[0].Error)
		assert.Equal(t, first, runs[1].ID)
		assert.Equal(t, model.Counts{Stargazers: 5, Watchers: 1, Forks: 3}, runs[1].Counts)
		assert.NotNil(t, runs[1].FinishedAt)
	})

	t.Run("lists every repository", func(t *testing.T) {
		runs, err := store.Recent(ctx, "", 10)
		require.NoError(t, err)
		assert.Len(t, runs, 3)
		assert.Equal(t, StatusRunning, runs[0].Status)
		assert.Nil(t, runs[0].FinishedAt)
	})

	t.Run("finishing an unknown run fails", func(t *testing.T) {
		err := store.Finish(ctx, store.newID(), Outcome{Status: StatusSucceeded})
		assert.Error(t, err)
	})
}
