// internal/github/transport.go
package github

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxErrorBody = 64 << 10

// apiError is a response the transport kept from the API clients because
// it is a rate-limit or server failure the retry loop has to see typed.
type apiError struct {
	StatusCode  int
	RateLimited bool
	Secondary   bool
	ResetAt     time.Time
	RetryAfter  time.Duration
	Message     string
}

func (e *apiError) Error() string {
	switch {
	case e.Secondary:
		return fmt.Sprintf("secondary rate limit (status %d): %s", e.StatusCode, e.Message)
	case e.RateLimited:
		return fmt.Sprintf("rate limit exceeded (status %d), resets at %s", e.StatusCode, e.ResetAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("server error (status %d): %s", e.StatusCode, e.Message)
}

// rateLimitTransport turns 429s, rate-limited 403s and 5xx responses into
// apiErrors and remembers the last reported reset time.
type rateLimitTransport struct {
	base http.RoundTripper

	mu      sync.Mutex
	resetAt time.Time
}

func newRateLimitTransport(base http.RoundTripper) *rateLimitTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &rateLimitTransport{base: base}
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.observe(resp.Header)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		body := drain(resp)
		if apiErr := t.rateLimitError(resp, body); apiErr != nil {
			return nil, apiErr
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		body := drain(resp)
		return nil, &apiError{StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
	}
	return resp, nil
}

// LastReset returns the most recent X-RateLimit-Reset seen, zero if none.
func (t *rateLimitTransport) LastReset() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resetAt
}

func (t *rateLimitTransport) observe(h http.Header) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if reset, ok := parseUnixHeader(h, "X-RateLimit-Reset"); ok {
		t.resetAt = reset
	}
}

func (t *rateLimitTransport) rateLimitError(resp *http.Response, body []byte) *apiError {
	msg := strings.ToLower(string(body))
	retryAfter := parseRetryAfter(resp.Header)
	reset, _ := parseUnixHeader(resp.Header, "X-RateLimit-Reset")

	if strings.Contains(msg, "secondary rate limit") || strings.Contains(msg, "abuse") ||
		(resp.StatusCode == http.StatusTooManyRequests && retryAfter > 0) {
		return &apiError{
			StatusCode:  resp.StatusCode,
			RateLimited: true,
			Secondary:   true,
			RetryAfter:  retryAfter,
			Message:     truncate(string(body), 200),
		}
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" || strings.Contains(msg, "rate limit exceeded") ||
		resp.StatusCode == http.StatusTooManyRequests {
		return &apiError{
			StatusCode:  resp.StatusCode,
			RateLimited: true,
			ResetAt:     reset,
			RetryAfter:  retryAfter,
			Message:     truncate(string(body), 200),
		}
	}
	return nil
}

func drain(resp *http.Response) []byte {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return body
}

func parseUnixHeader(h http.Header, key string) (time.Time, bool) {
	v := h.Get(key)
	if v == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

func parseRetryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
