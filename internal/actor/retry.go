package actor

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/nextlevelbuilder/guppy/internal/chat"
)

const maxTransportRetries = 3

// transientPattern matches transport errors worth retrying beyond a bare
// RateLimitError: network resets, timeouts, and 5xx/unavailable responses
// (spec.md §4.5).
var transientPattern = regexp.MustCompile(`(?i)network|ECONNRESET|ETIMEDOUT|5\d{2}|service.?unavailable`)

// contextOverflowPattern matches an LLM error indicating the prompt no
// longer fits the model's context window (spec.md §4.5).
var contextOverflowPattern = regexp.MustCompile(`(?i)context.?length|too long|token.?limit|prompt is too long|exceeds.*context`)

// isRetryableTransportError reports whether err is a RateLimitError or
// matches the transient-transport pattern.
func isRetryableTransportError(err error) bool {
	if err == nil {
		return false
	}
	var rl *chat.RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	return transientPattern.MatchString(err.Error())
}

// retryAfter returns the delay to wait before the next attempt: the
// platform's own RetryAfterMs hint when available, otherwise
// 1000ms * 2^attempt.
func retryAfter(err error, attempt int) time.Duration {
	var rl *chat.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfterMs > 0 {
		return time.Duration(rl.RetryAfterMs) * time.Millisecond
	}
	return time.Duration(1000*(1<<uint(attempt))) * time.Millisecond
}

// withTransportRetry runs op, retrying up to maxTransportRetries
// additional times (4 attempts total) on a retryable error. A non-
// retryable error returns immediately.
func withTransportRetry(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxTransportRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryableTransportError(err) {
			return err
		}
		if attempt == maxTransportRetries {
			break
		}
		select {
		case <-time.After(retryAfter(err, attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
