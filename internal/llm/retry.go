package llm

import (
	"context"
	"time"
)

// RetryPolicy is a bounded retry loop shared by every agent call that may need
// more than one attempt (validation retries, synthesis contract retries, the
// refinement loop). The bound lives here so it is enforced in one place.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	Backoff     time.Duration // flat delay between attempts; 0 means none
}

// DefaultRetryPolicy matches the synthesis contract: one try plus two retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3}
}

// Do runs fn up to MaxAttempts times, passing the zero-based attempt index.
// It stops on the first nil error or when the context is done. The last error
// is returned when every attempt fails.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 && p.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff):
			}
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}
