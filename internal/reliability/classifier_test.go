package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableSpeechMessageType(t *testing.T) {
	if !IsRetryableSpeechMessageType("rate_limited") {
		t.Fatal("rate_limited should be retryable")
	}
	if IsRetryableSpeechMessageType("auth_error") {
		t.Fatal("auth_error should not be retryable")
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, capDur); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want %v", got, 400*time.Millisecond)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

func TestBackoffHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Backoff(ctx, 0, time.Hour, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Backoff() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Backoff() did not return promptly")
	}
	if err := Backoff(context.Background(), 0, time.Millisecond, time.Millisecond); err != nil {
		t.Fatalf("Backoff() error = %v", err)
	}
}
