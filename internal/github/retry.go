// internal/github/retry.go
package github

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"

	custom_errors "github-fork-graph/internal/errors"
	"github-fork-graph/internal/metrics"
	"github-fork-graph/internal/policy"
)

type failureKind int

const (
	failFatal failureKind = iota
	failTransient
	failPrimary
	failSecondary
)

func (k failureKind) String() string {
	switch k {
	case failTransient:
		return "transient"
	case failPrimary:
		return "primary"
	case failSecondary:
		return "secondary"
	}
	return "fatal"
}

type failure struct {
	kind       failureKind
	resetAt    time.Time
	retryAfter time.Duration
}

func (f failure) rateLimited() bool {
	return f.kind == failPrimary || f.kind == failSecondary
}

// classify decides how a failed call is retried.
func (c *Client) classify(err error) failure {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Secondary:
			return failure{kind: failSecondary, retryAfter: apiErr.RetryAfter}
		case apiErr.RateLimited:
			return failure{kind: failPrimary, resetAt: apiErr.ResetAt, retryAfter: apiErr.RetryAfter}
		default:
			return failure{kind: failTransient}
		}
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return failure{kind: failPrimary, resetAt: rateErr.Rate.Reset.Time}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return failure{kind: failSecondary, retryAfter: abuseErr.GetRetryAfter()}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return failure{kind: failTransient}
	}

	// GraphQL reports rate limits as errors inside a 200 response.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "secondary rate limit"):
		return failure{kind: failSecondary}
	case strings.Contains(msg, "rate limit") && strings.Contains(msg, "exceeded"):
		return failure{kind: failPrimary, resetAt: c.transport.LastReset()}
	case strings.Contains(msg, "something went wrong"), strings.Contains(msg, "timeout"):
		return failure{kind: failTransient}
	}
	return failure{kind: failFatal}
}

// waitFor returns how long to sleep before retrying f.
func (c *Client) waitFor(f failure, bo backoff.BackOff) time.Duration {
	switch f.kind {
	case failSecondary:
		if f.retryAfter > c.opts.SecondaryCooldown {
			return f.retryAfter
		}
		return c.opts.SecondaryCooldown
	case failPrimary:
		if !f.resetAt.IsZero() {
			if d := f.resetAt.Sub(c.now()) + c.opts.RateLimitSlack; d > c.opts.RateLimitSlack {
				return d
			}
			return c.opts.RateLimitSlack
		}
		if f.retryAfter > 0 {
			return f.retryAfter + c.opts.RateLimitSlack
		}
		return time.Minute + c.opts.RateLimitSlack
	}
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return c.opts.SecondaryCooldown
	}
	return d
}

// do runs call until it succeeds, fails fatally or runs out of attempts.
// Rate-limit waits longer than MaxUnattendedWait need the policy's consent.
func (c *Client) do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	logger := c.logger.With("op", op)
	var (
		lastErr  error
		lastFail failure
	)
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := call(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f := c.classify(err)
		if f.kind == failFatal {
			return err
		}
		lastErr, lastFail = err, f
		if attempt == c.opts.MaxAttempts {
			break
		}

		wait := c.waitFor(f, bo)
		if f.rateLimited() && wait > c.opts.MaxUnattendedWait {
			ok, perr := c.policy.Confirm(ctx, policy.Question{Kind: policy.WaitRateLimit, Subject: op, Wait: wait})
			if perr != nil {
				return perr
			}
			if !ok {
				return &custom_errors.RateLimitExceeded{
					Op:        op,
					Secondary: f.kind == failSecondary,
					ResetAt:   c.now().Add(wait),
					Attempts:  attempt,
					Declined:  true,
				}
			}
		}

		metrics.FetchRetries.WithLabelValues(f.kind.String()).Inc()
		logger.Warn("remote call failed, retrying",
			"attempt", attempt,
			"max_attempts", c.opts.MaxAttempts,
			"reason", f.kind.String(),
			"wait", wait.String(),
			"error", err)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if lastFail.rateLimited() {
		return &custom_errors.RateLimitExceeded{
			Op:        op,
			Secondary: lastFail.kind == failSecondary,
			ResetAt:   lastFail.resetAt,
			Attempts:  c.opts.MaxAttempts,
		}
	}
	return &custom_errors.TransientFetchError{Op: op, Attempts: c.opts.MaxAttempts, Err: lastErr}
}

// throttle sleeps until the reset when the remaining GraphQL budget cannot
// pay for another call of the same cost.
func (c *Client) throttle(ctx context.Context, op string, rl rateLimitInfo) error {
	if int(rl.Remaining) >= int(rl.Cost) || rl.ResetAt.IsZero() {
		return nil
	}
	wait := rl.ResetAt.Sub(c.now()) + c.opts.RateLimitSlack
	if wait <= 0 {
		return nil
	}
	if wait > c.opts.MaxUnattendedWait {
		ok, err := c.policy.Confirm(ctx, policy.Question{Kind: policy.WaitRateLimit, Subject: op, Wait: wait})
		if err != nil {
			return err
		}
		if !ok {
			return &custom_errors.RateLimitExceeded{Op: op, ResetAt: rl.ResetAt.Time, Declined: true}
		}
	}
	c.logger.Info("rate limit budget exhausted, sleeping until reset",
		"op", op, "remaining", int(rl.Remaining), "cost", int(rl.Cost), "wait", wait.String())
	return c.sleep(ctx, wait)
}
