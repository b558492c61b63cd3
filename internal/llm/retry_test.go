package llm

import (
	"context"
	"errors"
	"testing"
)

func TestRetryPolicyStopsOnFirstSuccess(t *testing.T) {
	t.Parallel()
	calls := 0
	err := RetryPolicy{MaxAttempts: 5}.Do(context.Background(), func(attempt int) error {
		calls++
		if attempt == 1 {
			return nil
		}
		return errors.New("not yet")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryPolicyReturnsLastError(t *testing.T) {
	t.Parallel()
	lastErr := errors.New("attempt 2 failed")
	calls := 0
	err := RetryPolicy{MaxAttempts: 3}.Do(context.Background(), func(attempt int) error {
		calls++
		if attempt == 2 {
			return lastErr
		}
		return errors.New("earlier failure")
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, lastErr) {
		t.Fatalf("expected last error, got %v", err)
	}
}

func TestRetryPolicyZeroAttemptsMeansOne(t *testing.T) {
	t.Parallel()
	calls := 0
	RetryPolicy{}.Do(context.Background(), func(int) error {
		calls++
		return errors.New("fail")
	})
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestRetryPolicyHonorsContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryPolicy{MaxAttempts: 10}.Do(ctx, func(int) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation stopped the loop, got %d", calls)
	}
}
