package backoff

import (
	"context"
	"errors"
	"testing"
)

type lengthError struct{}

func (lengthError) Error() string { return "input too long" }

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	policy := Policy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0}
	attempts := 0
	res, err := Retry(context.Background(), policy, 5, AlwaysRetry, func(attempt int) (string, error) {
		attempts++
		if attempt < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if res.Value != "ok" || res.Attempts != 3 || attempts != 3 {
		t.Fatalf("unexpected result: %+v attempts=%d", res, attempts)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	policy := Policy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0}
	_, err := Retry(context.Background(), policy, 2, AlwaysRetry, func(int) (string, error) {
		return "", errors.New("always fails")
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestRetry_NonRetryableFailsFast(t *testing.T) {
	policy := Policy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0}
	attempts := 0
	classify := func(err error) bool {
		_, isLength := err.(lengthError)
		return !isLength
	}
	_, err := Retry(context.Background(), policy, 5, classify, func(int) (string, error) {
		attempts++
		return "", lengthError{}
	})
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (fail fast)", attempts)
	}
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := Policy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0}
	_, err := Retry(ctx, policy, 3, AlwaysRetry, func(int) (string, error) {
		return "", errors.New("should not run")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
