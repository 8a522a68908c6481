// internal/analysis/analysis_test.go
package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	custom_errors "github-fork-graph/internal/errors"
	"github-fork-graph/internal/graph"
	"github-fork-graph/internal/merge"
	"github-fork-graph/internal/model"
)

var widget = model.RepoRef{Owner: "acme", Name: "widget"}

// MockFetcher is a mock of RepositoryFetcher.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchRepository(ctx context.Context, ref model.RepoRef) (model.RepositoryInfo, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(model.RepositoryInfo), args.Error(1)
}

func repoOf(id, owner string, org bool) model.Repository {
	o := model.NewUser(owner, model.UserFields{})
	if org {
		o = model.NewOrganization(owner, model.OrganizationFields{})
	}
	return model.Repository{ID: id, Name: "widget", URL: "https://github.com/" + owner + "/widget", Owner: o, IsFork: id != "R_up"}
}

// seed builds acme/widget with forks: org1 (forked twice), org2 (once),
// alice (three times, user owned).
func seed(t *testing.T) (*graph.MemoryStore, *merge.Engine) {
	t.Helper()
	ctx := context.Background()
	store := graph.NewMemoryStore()
	m := merge.NewEngine(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, m.MergeRepository(ctx, repoOf("R_up", "acme", true)))
	fork := func(parent, id, owner string, org bool) {
		require.NoError(t, m.MergeFork(ctx, parent, model.ForkRecord{Repository: repoOf(id, owner, org)}))
	}
	fork("R_up", "R_org1", "org1", true)
	fork("R_up", "R_org2", "org2", true)
	fork("R_up", "R_alice", "alice", false)
	fork("R_org1", "R_a", "a", false)
	fork("R_org1", "R_b", "b", false)
	fork("R_org2", "R_c", "c", false)
	fork("R_alice", "R_d", "d", false)
	fork("R_alice", "R_e", "e", false)
	fork("R_alice", "R_f", "f", false)

	owner := model.NewUser("stargazer", model.UserFields{})
	_, err := m.ApplyPage(ctx, "R_up", model.Page{Kind: model.Stargazers, Owners: []model.Owner{owner}})
	require.NoError(t, err)
	return store, m
}

func TestService_Info(t *testing.T) {
	ctx := context.Background()

	t.Run("graph only", func(t *testing.T) {
		store, _ := seed(t)
		svc := NewService(store, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

		info, err := svc.Info(ctx, widget)
		require.NoError(t, err)
		assert.Equal(t, "R_up", info.ID)
		assert.Equal(t, model.Counts{Stargazers: 1, Forks: 9}, info.Local)
		assert.Nil(t, info.Remote)
		_, ok := info.Ratio(model.Forks)
		assert.False(t, ok)
	})

	t.Run("compares with the remote source", func(t *testing.T) {
		store, m := seed(t)
		parent := model.RepoRef{Owner: "origin", Name: "widget"}
		f := new(MockFetcher)
		f.On("FetchRepository", mock.Anything, widget).Return(model.RepositoryInfo{
			Repository:     repoOf("R_up", "acme", true),
			Parent:         &parent,
			StargazerCount: 4,
			ForkCount:      12,
		}, nil).Once()
		svc := NewService(store, f, m, slog.New(slog.NewTextHandler(io.Discard, nil)))

		info, err := svc.Info(ctx, widget)
		require.NoError(t, err)
		require.NotNil(t, info.Remote)
		assert.Equal(t, &parent, info.Parent)

		ratio, ok := info.Ratio(model.Stargazers)
		require.True(t, ok)
		assert.InDelta(t, 0.25, ratio, 1e-9)
		ratio, ok = info.Ratio(model.Forks)
		require.True(t, ok)
		assert.InDelta(t, 0.75, ratio, 1e-9)
		_, ok = info.Ratio(model.Watchers)
		assert.False(t, ok, "zero remote watchers")
		f.AssertExpectations(t)
	})

	t.Run("merges a repository seen for the first time", func(t *testing.T) {
		store := graph.NewMemoryStore()
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		f := new(MockFetcher)
		f.On("FetchRepository", mock.Anything, widget).Return(model.RepositoryInfo{Repository: repoOf("R_up", "acme", false)}, nil)
		svc := NewService(store, f, merge.NewEngine(store, logger), logger)

		info, err := svc.Info(ctx, widget)
		require.NoError(t, err)
		assert.Equal(t, model.Counts{}, info.Local)
	})

	t.Run("remote failure", func(t *testing.T) {
		f := new(MockFetcher)
		f.On("FetchRepository", mock.Anything, widget).Return(model.RepositoryInfo{}, errors.New("boom"))
		svc := NewService(graph.NewMemoryStore(), f, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
		_, err := svc.Info(ctx, widget)
		assert.ErrorContains(t, err, "boom")
	})
}

func TestService_Forks(t *testing.T) {
	store, _ := seed(t)
	svc := NewService(store, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	forks, err := svc.Forks(context.Background(), widget)
	require.NoError(t, err)
	require.Len(t, forks, 3)
	assert.Equal(t, "alice", forks[0].Repo.Owner)
	assert.Equal(t, 3, forks[0].Forks)
	assert.Equal(t, model.OwnerUser, forks[0].OwnerType)
	assert.Equal(t, "org1", forks[1].Repo.Owner)
	assert.Equal(t, "org2", forks[2].Repo.Owner)
}

func TestService_Forks_IgnoresCase(t *testing.T) {
	store, _ := seed(t)
	svc := NewService(store, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	forks, err := svc.Forks(context.Background(), model.RepoRef{Owner: "ACME", Name: "Widget"})
	require.NoError(t, err)
	assert.Len(t, forks, 3)
}

func TestService_TopForkingOrganizations(t *testing.T) {
	store, _ := seed(t)
	svc := NewService(store, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	top, err := svc.TopForkingOrganizations(ctx, widget, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "org1", top[0].Repo.Owner)
	assert.Equal(t, 2, top[0].Forks)
	assert.Equal(t, "org2", top[1].Repo.Owner)

	top, err = svc.TopForkingOrganizations(ctx, widget, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestService_Delete(t *testing.T) {
	store, _ := seed(t)
	svc := NewService(store, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	n, err := svc.Delete(ctx, widget)
	require.NoError(t, err)
	// The repository, its owner, nine forks with their nine owners and a stargazer.
	assert.Equal(t, 21, n)

	repos, err := store.CountNodes(ctx, model.LabelRepository)
	require.NoError(t, err)
	assert.Zero(t, repos)
}

func TestService_EmptyDatabase(t *testing.T) {
	svc := NewService(graph.NewMemoryStore(), nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	var empty *custom_errors.EmptyDatabase

	_, err := svc.Info(ctx, widget)
	assert.ErrorAs(t, err, &empty)
	_, err = svc.Forks(ctx, widget)
	assert.ErrorAs(t, err, &empty)
	_, err = svc.TopForkingOrganizations(ctx, widget, 5)
	assert.ErrorAs(t, err, &empty)
	_, err = svc.Delete(ctx, widget)
	assert.ErrorAs(t, err, &empty)
}
