// Package backoff provides the capped-exponential backoff arithmetic
// shared by the embedding/rerank retry clients (C3) and the Doom-Loop
// Guard (C8).
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy parameterizes a jittered exponential backoff curve.
type Policy struct {
	// InitialMs is the backoff for the first retry.
	InitialMs float64
	// MaxMs caps the computed backoff regardless of attempt count.
	MaxMs float64
	// Factor is the exponential growth factor applied per attempt.
	Factor float64
	// Jitter is the fraction (0..1) of the base delay added at random.
	Jitter float64
}

// DefaultPolicy is used by the embedding/rerank/LLM retry clients.
func DefaultPolicy() Policy {
	return Policy{InitialMs: 200, MaxMs: 10000, Factor: 2, Jitter: 0.1}
}

// Compute returns the backoff duration for the given 1-indexed attempt.
func Compute(p Policy, attempt int) time.Duration {
	return ComputeWithRand(p, attempt, rand.Float64()) //nolint:gosec // jitter, not security-sensitive
}

// ComputeWithRand is Compute with an injected random source in [0,1),
// used by tests that need deterministic backoff values.
func ComputeWithRand(p Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := p.InitialMs * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * randomValue
	total := math.Min(p.MaxMs, base+jitter)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// UntilFromErrors computes a discrete doubling backoff instant:
// now + min(capMs, baseMs * 2^(errors-1)), for errors >= 1.
func UntilFromErrors(now time.Time, baseMs, capMs int64, consecutiveErrors int) time.Time {
	if consecutiveErrors <= 0 {
		return now
	}
	exp := float64(consecutiveErrors - 1)
	delayMs := math.Min(float64(capMs), float64(baseMs)*math.Pow(2, exp))
	return now.Add(time.Duration(delayMs) * time.Millisecond)
}
