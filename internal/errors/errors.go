// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Process exit statuses for fatal conditions.
const (
	ExitFailure      = 1
	ExitInvalidInput = 2
	ExitRateLimited  = 3
	ExitTransient    = 4
	ExitEmptyDB      = 5
	ExitCVENotFound  = 6
	ExitStalled      = 7
)

// ErrInvalidRepoFormat is returned when a repository string is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// ErrInvalidCVE is returned for identifiers that are not CVE-YYYY-NNNN.
type ErrInvalidCVE struct {
	CVE string
}

func (e *ErrInvalidCVE) Error() string {
	return fmt.Sprintf("invalid CVE identifier: %q, expected 'CVE-YYYY-NNNN'", e.CVE)
}

// TransientFetchError is a network or server failure that survived every retry.
type TransientFetchError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// RateLimitExceeded is returned when a rate limit could not be waited out,
// either because retries ran out or the operator declined to wait.
type RateLimitExceeded struct {
	Op        string
	Secondary bool
	ResetAt   time.Time
	Attempts  int
	Declined  bool
}

func (e *RateLimitExceeded) Error() string {
	kind := "primary"
	if e.Secondary {
		kind = "secondary"
	}
	if e.Declined {
		return fmt.Sprintf("%s: %s rate limit exceeded, waiting until %s was declined", e.Op, kind, e.ResetAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s: %s rate limit exceeded after %d attempts", e.Op, kind, e.Attempts)
}

// MergeConflict is a store constraint violation for a single record. The
// record is skipped and the rest of the page is merged.
type MergeConflict struct {
	Kind string
	Key  string
	Err  error
}

func (e *MergeConflict) Error() string {
	return fmt.Sprintf("merge conflict on %s %q: %v", e.Kind, e.Key, e.Err)
}

func (e *MergeConflict) Unwrap() error { return e.Err }

// CVENotFound is returned when no comment in the upstream history mentions the CVE.
type CVENotFound struct {
	CVE  string
	Repo string
}

func (e *CVENotFound) Error() string {
	return fmt.Sprintf("no reference to %s found in %s issue comments", e.CVE, e.Repo)
}

// EmptyDatabase is returned by analytical queries run before any sync.
type EmptyDatabase struct {
	Repo string
}

func (e *EmptyDatabase) Error() string {
	if e.Repo == "" {
		return "database is empty: run a sync first"
	}
	return fmt.Sprintf("no synced data for %s: run a sync first", e.Repo)
}

// ErrPaginationStalled is returned when a kind keeps reporting more pages
// while returning empty pages for the same cursor.
type ErrPaginationStalled struct {
	Kind   string
	Cursor string
	Rounds int
}

func (e *ErrPaginationStalled) Error() string {
	return fmt.Sprintf("%s pagination stalled at cursor %q: %d empty pages with hasNextPage=true", e.Kind, e.Cursor, e.Rounds)
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var (
		rateErr    *RateLimitExceeded
		transient  *TransientFetchError
		emptyErr   *EmptyDatabase
		cveErr     *CVENotFound
		stallErr   *ErrPaginationStalled
		repoErr    *ErrInvalidRepoFormat
		invalidCVE *ErrInvalidCVE
	)
	switch {
	case errors.As(err, &rateErr):
		return ExitRateLimited
	case errors.As(err, &transient):
		return ExitTransient
	case errors.As(err, &emptyErr):
		return ExitEmptyDB
	case errors.As(err, &cveErr):
		return ExitCVENotFound
	case errors.As(err, &stallErr):
		return ExitStalled
	case errors.As(err, &repoErr), errors.As(err, &invalidCVE):
		return ExitInvalidInput
	}
	return ExitFailure
}
