package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"google.golang.org/api/googleapi"
	googlegenai "google.golang.org/genai"

	"github.com/yangwenmai/retromag/internal/model"
)

// RetryPolicy controls backoff on rate-limit errors.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryPolicy is three attempts starting at two seconds, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 2 * time.Second}
}

// backoff returns the wait after the given zero-based failed attempt.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	return p.BaseDelay << attempt
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var rateLimitMarkers = []string{
	"429",
	"resource_exhausted",
	"resourceexhausted",
	"quota",
	"rate limit",
	"too many requests",
}

// IsRateLimited reports whether err is a transient quota or rate-limit
// error worth retrying.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}
	var oerr *openai.Error
	if errors.As(err, &oerr) && oerr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	var aerr googlegenai.APIError
	if errors.As(err, &aerr) && aerr.Code == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// withRetry runs call, retrying rate-limited failures with exponential
// backoff. Every error it returns is a *model.Failure of the given kind.
func (g *Gateway) withRetry(ctx context.Context, kind model.FailureKind, op string, call func(context.Context) (string, error)) (string, error) {
	attempts := g.retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		out, err := call(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRateLimited(err) {
			return "", model.NewFailure(kind, op, err)
		}
		if attempt == attempts-1 {
			break
		}
		wait := g.retry.backoff(attempt)
		g.log.Warn("rate limited, backing off",
			"op", op, "attempt", attempt+1, "of", attempts, "wait", wait.String())
		if err := g.sleep(ctx, wait); err != nil {
			return "", model.NewFailure(kind, op, err)
		}
	}
	return "", model.NewFailure(kind, op, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr))
}
