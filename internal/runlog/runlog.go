// internal/runlog/runlog.go

// Package runlog keeps a history of sync and patch runs in Postgres.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github-fork-graph/internal/model"
)

// Kind is the type of run.
type Kind string

const (
	KindSync  Kind = "sync"
	KindPatch Kind = "patch"
)

// Status of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome is what a finished run reports.
type Outcome struct {
	Status Status
	Rounds int
	Counts model.Counts
	Err    error
}

// Run is one row of the history.
type Run struct {
	ID         uuid.UUID    `json:"id"`
	Repo       string       `json:"repo"`
	Kind       Kind         `json:"kind"`
	Status     Status       `json:"status"`
	Rounds     int          `json:"rounds"`
	Counts     model.Counts `json:"counts"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// Recorder records the start and end of runs.
type Recorder interface {
	Start(ctx context.Context, repo string, kind Kind) (uuid.UUID, error)
	Finish(ctx context.Context, id uuid.UUID, out Outcome) error
}

// Nop discards everything. It is used when no database is configured.
type Nop struct{}

func (Nop) Start(context.Context, string, Kind) (uuid.UUID, error) { return uuid.Nil, nil }
func (Nop) Finish(context.Context, uuid.UUID, Outcome) error       { return nil }

// Store is the Postgres backed Recorder.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	newID  func() uuid.UUID
}

// Open connects to dbURL and checks the connection.
func Open(ctx context.Context, dbURL string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewStore(pool, logger), nil
}

// NewStore uses an existing pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With("component", "runlog"),
		newID:  uuid.New,
	}
}

// Migrate applies the migrations found in dir to dbURL.
func Migrate(dbURL, dir string) error {
	m, err := migrate.New("file://"+dir, dbURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Start inserts a running row and returns its id.
func (s *Store) Start(ctx context.Context, repo string, kind Kind) (uuid.UUID, error) {
	id := s.newID()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, repo, kind, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, repo, string(kind), string(StatusRunning), time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("recording start of %s run for %s: %w", kind, repo, err)
	}
	s.logger.Debug("run started", "run_id", id.String(), "repo", repo, "kind", string(kind))
	return id, nil
}

// Finish stores the outcome of run id. A nil id is ignored so a failed
// Start never turns into a second error.
func (s *Store) Finish(ctx context.Context, id uuid.UUID, out Outcome) error {
	if id == uuid.Nil {
		return nil
	}
	var msg *string
	if out.Err != nil {
		m := out.Err.Error()
		msg = &m
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_runs
		SET status = $2, rounds = $3, stargazers = $4, watchers = $5, forks = $6,
		    error = $7, finished_at = $8
		WHERE id = $1`,
		id, string(out.Status), out.Rounds,
		out.Counts.Stargazers, out.Counts.Watchers, out.Counts.Forks,
		msg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording end of run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// Recent lists the latest runs, newest first. An empty repo lists all.
func (s *Store) Recent(ctx context.Context, repo string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, repo, kind, status, rounds, stargazers, watchers, forks,
		       error, started_at, finished_at
		FROM sync_runs
		WHERE ($1 = '' OR repo = $1)
		ORDER BY started_at DESC
		LIMIT $2`, repo, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r      Run
			kind   string
			status string
			msg    *string
		)
		if err := rows.Scan(&r.ID, &r.Repo, &kind, &status, &r.Rounds,
			&r.Counts.Stargazers, &r.Counts.Watchers, &r.Counts.Forks,
			&msg, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.Kind, r.Status = Kind(kind), Status(status)
		if msg != nil {
			r.Error = *msg
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
