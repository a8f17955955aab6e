package retry

import (
	"errors"
	"testing"
	"time"
)

type nonRetryable struct{ err error }

func (n nonRetryable) Error() string { return n.err.Error() }
func (n nonRetryable) Unwrap() error { return n.err }

func TestRetrySucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, Multiplier: 1}, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Retry(RetryConfig{MaxRetries: 5, InitialInterval: time.Millisecond, Multiplier: 1}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := Retry(RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, Multiplier: 1}, func() error {
		calls++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsImmediatelyOnNonRetryableError(t *testing.T) {
	calls := 0
	sentinelErr := nonRetryable{err: errors.New("404 not found")}
	err := Retry(RetryConfig{MaxRetries: 5, InitialInterval: time.Millisecond, Multiplier: 1}, func() error {
		calls++
		return sentinelErr
	})
	if err == nil {
		t.Fatal("expected a non-retryable error to be returned")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries for a non-retryable error)", calls)
	}
}
