// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`

	GithubToken      string `mapstructure:"GITHUB_TOKEN"`
	GithubGraphQLURL string `mapstructure:"GITHUB_GRAPHQL_URL"`
	GithubAPIURL     string `mapstructure:"GITHUB_API_URL"`

	Neo4jURI      string `mapstructure:"NEO4J_URI"`
	Neo4jUser     string `mapstructure:"NEO4J_USER"`
	Neo4jPassword string `mapstructure:"NEO4J_PASSWORD"`
	Neo4jDatabase string `mapstructure:"NEO4J_DATABASE"`

	// DBURL enables the Postgres run log when set.
	DBURL         string `mapstructure:"DB_URL"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	ReposToSync     []string      `mapstructure:"REPOS_TO_SYNC"`
	SyncInterval    time.Duration `mapstructure:"SYNC_INTERVAL"`
	SyncConcurrency int           `mapstructure:"SYNC_CONCURRENCY"`
	PageSize        int           `mapstructure:"PAGE_SIZE"`
	StallLimit      int           `mapstructure:"STALL_LIMIT"`

	FetchMaxAttempts           int           `mapstructure:"FETCH_MAX_ATTEMPTS"`
	SecondaryRateLimitCooldown time.Duration `mapstructure:"SECONDARY_RATE_LIMIT_COOLDOWN"`
	RateLimitSlack             time.Duration `mapstructure:"RATE_LIMIT_SLACK"`
	MaxUnattendedWait          time.Duration `mapstructure:"MAX_UNATTENDED_WAIT"`
	RequestsPerSecond          float64       `mapstructure:"REQUESTS_PER_SECOND"`

	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	AutoConfirm bool   `mapstructure:"AUTO_CONFIRM"`
}

// MaxPageSize is the largest page the remote source serves.
const MaxPageSize = 100

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("GITHUB_TOKEN", "")
	v.SetDefault("GITHUB_GRAPHQL_URL", "https://api.github.com/graphql")
	v.SetDefault("GITHUB_API_URL", "https://api.github.com/")
	v.SetDefault("NEO4J_URI", "bolt://localhost:7687")
	v.SetDefault("NEO4J_USER", "neo4j")
	v.SetDefault("NEO4J_PASSWORD", "password")
	v.SetDefault("NEO4J_DATABASE", "neo4j")
	v.SetDefault("DB_URL", "")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("REPOS_TO_SYNC", []string{})
	v.SetDefault("SYNC_INTERVAL", "1h")
	v.SetDefault("SYNC_CONCURRENCY", 3)
	v.SetDefault("PAGE_SIZE", MaxPageSize)
	v.SetDefault("STALL_LIMIT", 3)
	v.SetDefault("FETCH_MAX_ATTEMPTS", 3)
	v.SetDefault("SECONDARY_RATE_LIMIT_COOLDOWN", "4m")
	v.SetDefault("RATE_LIMIT_SLACK", "2s")
	v.SetDefault("MAX_UNATTENDED_WAIT", "15m")
	v.SetDefault("REQUESTS_PER_SECOND", 1.0)
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("AUTO_CONFIRM", false)
}

// Validate checks the fields every binary needs.
func (c *Config) Validate() error {
	if c.GithubToken == "" {
		return errors.New("GITHUB_TOKEN is a required configuration field")
	}
	if c.Neo4jURI == "" {
		return errors.New("NEO4J_URI is a required configuration field")
	}
	if c.PageSize <= 0 || c.PageSize > MaxPageSize {
		return errors.New("PAGE_SIZE must be between 1 and 100")
	}
	if c.FetchMaxAttempts < 1 {
		return errors.New("FETCH_MAX_ATTEMPTS must be at least 1")
	}
	if c.SyncConcurrency < 1 {
		return errors.New("SYNC_CONCURRENCY must be at least 1")
	}
	if c.StallLimit < 1 {
		return errors.New("STALL_LIMIT must be at least 1")
	}
	if c.RequestsPerSecond <= 0 {
		return errors.New("REQUESTS_PER_SECOND must be positive")
	}
	return nil
}

// RequireRepos is the extra validation of the daemon, which has nothing to
// do without a repository list.
func (c *Config) RequireRepos() error {
	if len(c.ReposToSync) == 0 {
		return errors.New("REPOS_TO_SYNC must contain at least one repository")
	}
	return nil
}
