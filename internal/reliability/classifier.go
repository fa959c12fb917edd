// Package reliability classifies provider failures and paces retries.
package reliability

import (
	"context"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableSpeechMessageType classifies error message types reported inside
// a speech synthesis stream.
func IsRetryableSpeechMessageType(messageType string) bool {
	switch messageType {
	case "rate_limited", "resource_exhausted", "queue_overflow", "input_timeout_exceeded", "error":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Backoff sleeps for the backoff of attempt, returning early with ctx's error
// if ctx is done first.
func Backoff(ctx context.Context, attempt int, base, cap time.Duration) error {
	t := time.NewTimer(ExponentialBackoff(attempt, base, cap))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
