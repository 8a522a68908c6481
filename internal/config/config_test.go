// internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "bolt://localhost:7687", cfg.Neo4jURI)
	assert.Equal(t, "neo4j", cfg.Neo4jDatabase)
	assert.Equal(t, 100, cfg.PageSize)
	assert.Equal(t, 3, cfg.FetchMaxAttempts)
	assert.Equal(t, 4*time.Minute, cfg.SecondaryRateLimitCooldown)
	assert.Equal(t, 2*time.Second, cfg.RateLimitSlack)
	assert.Equal(t, 15*time.Minute, cfg.MaxUnattendedWait)
	assert.Empty(t, cfg.DBURL)
	assert.Equal(t, "migrations", cfg.MigrationsDir)
	assert.False(t, cfg.AutoConfirm)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("REPOS_TO_SYNC", "acme/widget,acme/gadget")
	t.Setenv("SYNC_INTERVAL", "30m")
	t.Setenv("PAGE_SIZE", "50")
	t.Setenv("AUTO_CONFIRM", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"acme/widget", "acme/gadget"}, cfg.ReposToSync)
	assert.Equal(t, 30*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 50, cfg.PageSize)
	assert.True(t, cfg.AutoConfirm)
	assert.NoError(t, cfg.RequireRepos())
}

func TestLoadConfig_Validation(t *testing.T) {
	t.Run("token is required", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "GITHUB_TOKEN")
	})

	t.Run("page size is bounded", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "ghp_test")
		t.Setenv("PAGE_SIZE", "500")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "PAGE_SIZE")
	})

	t.Run("daemon needs repositories", func(t *testing.T) {
		cfg := &Config{}
		assert.ErrorContains(t, cfg.RequireRepos(), "REPOS_TO_SYNC")
	})
}
