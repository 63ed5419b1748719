package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aws/smithy-go"
)

// Retry constants per spec: base 1s, doubling, capped at 10s, 3 retries.
const (
	maxAttempts    = 4 // the first attempt plus 3 retries
	initialBackoff = 1 * time.Second
	backoffMulti   = 2
	maxBackoff     = 10 * time.Second
)

// isRetryable reports whether an S3/DynamoDB SDK error is worth another
// attempt: throttling and service-side (5xx-class) error codes, and
// context.DeadlineExceeded. Any other error, including not-found,
// validation and non-API errors, is never retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "RequestTimeout", "RequestTimeoutException", "ThrottlingException",
			"ProvisionedThroughputExceededException", "SlowDown", "InternalError",
			"ServiceUnavailable":
			return true
		}
		return false
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// withRetry runs fn with bounded exponential backoff. It is the single
// retry policy for the whole gateway — everything above this layer
// treats gateway errors as terminal, per spec.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else if !isRetryable(err) {
			return err
		} else {
			lastErr = err
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= backoffMulti
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}

	return lastErr
}
