package backoff

import (
	"context"
	"errors"
)

// ErrExhausted is returned once every retry attempt has failed.
var ErrExhausted = errors.New("backoff: retry attempts exhausted")

// Classifier decides whether an error returned by a retried function is
// worth retrying at all. Non-retryable errors fail fast without
// consuming further attempts.
type Classifier func(err error) bool

// AlwaysRetry treats every error as retryable.
func AlwaysRetry(error) bool { return true }

// Result carries the outcome of a Retry call.
type Result[T any] struct {
	Value     T
	Attempts  int
	LastError error
}

// Retry runs fn up to maxAttempts times, sleeping according to policy
// between attempts, and stops early if classify reports an error as
// non-retryable. Context cancellation is checked before each attempt.
func Retry[T any](ctx context.Context, policy Policy, maxAttempts int, classify Classifier, fn func(attempt int) (T, error)) (Result[T], error) {
	var res Result[T]
	if classify == nil {
		classify = AlwaysRetry
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt

		if err := ctx.Err(); err != nil {
			return res, err
		}

		value, err := fn(attempt)
		if err == nil {
			res.Value = value
			return res, nil
		}
		res.LastError = err

		if !classify(err) {
			return res, err
		}

		if attempt < maxAttempts {
			if err := Sleep(ctx, Compute(policy, attempt)); err != nil {
				return res, err
			}
		}
	}
	return res, ErrExhausted
}
