package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/smithy-go"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"throttling", &smithy.GenericAPIError{Code: "ThrottlingException"}, true},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, true},
		{"internal error", &smithy.GenericAPIError{Code: "InternalError"}, true},
		{"not found", &smithy.GenericAPIError{Code: "NoSuchKey"}, false},
		{"validation", &smithy.GenericAPIError{Code: "ValidationException"}, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"plain error", errors.New("boom"), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isRetryable(c.err); got != c.want {
				t.Errorf("isRetryable(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return &smithy.GenericAPIError{Code: "SlowDown"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestWithRetryReturnsImmediatelyForNonRetryableError(t *testing.T) {
	attempts := 0
	wantErr := &smithy.GenericAPIError{Code: "ValidationException"}
	err := withRetry(context.Background(), func() error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, error(wantErr)) && err != error(wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry for non-retryable error)", attempts)
	}
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	wantErr := &smithy.GenericAPIError{Code: "ServiceUnavailable"}
	err := withRetry(context.Background(), func() error {
		attempts++
		return wantErr
	})
	if err != error(wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
	if attempts != maxAttempts {
		t.Errorf("attempts = %d, want %d", attempts, maxAttempts)
	}
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	attempts := 0
	start := time.Now()
	err := withRetry(ctx, func() error {
		attempts++
		return &smithy.GenericAPIError{Code: "SlowDown"}
	})
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
	if elapsed >= initialBackoff {
		t.Errorf("withRetry took %s, expected to abort before the %s backoff elapsed", elapsed, initialBackoff)
	}
}
