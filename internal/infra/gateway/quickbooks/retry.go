package quickbooks

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kislikjeka/booksync/internal/platform/remote"
)

// RetryPolicy is a capped exponential backoff for rate-limited requests
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Sleep waits for d or until ctx is done; replaced in tests
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries three times after 1s, 2s and 4s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Sleep:      sleepContext,
	}
}

// Delay returns the wait before retry number attempt (zero-based). A
// Retry-After hint overrides the computed backoff but not the cap.
func (p RetryPolicy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	d := retryAfter
	if d <= 0 {
		d = p.BaseDelay << attempt
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep == nil {
		return sleepContext(ctx, d)
	}
	return p.Sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func parseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// RateLimitError is returned when rate-limit retries are exhausted
type RateLimitError struct {
	RetryAfter time.Duration
	Attempts   int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("QuickBooks API rate limit exceeded after %d attempts (retry after %s)", e.Attempts, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return remote.ErrRateLimited
}
