package backoff

import (
	"testing"
	"time"
)

func TestComputeWithRand_Monotonic(t *testing.T) {
	p := Policy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		d := ComputeWithRand(p, attempt, 0)
		if d < prev {
			t.Fatalf("attempt %d backoff %v is less than previous %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestComputeWithRand_CappedAtMax(t *testing.T) {
	p := Policy{InitialMs: 1000, MaxMs: 5000, Factor: 2, Jitter: 0}
	d := ComputeWithRand(p, 10, 0)
	if d != 5*time.Second {
		t.Errorf("Compute at high attempt = %v, want capped at %v", d, 5*time.Second)
	}
}

func TestUntilFromErrors(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// three failures, baseMs=1000, capMs=10000
	// -> backoffUntil - now == 4000ms (2^(3-1)*1000).
	until := UntilFromErrors(now, 1000, 10000, 3)
	if got := until.Sub(now); got != 4*time.Second {
		t.Errorf("UntilFromErrors(3 errors) = %v, want 4s", got)
	}
}

func TestUntilFromErrors_Capped(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := UntilFromErrors(now, 1000, 5000, 10)
	if got := until.Sub(now); got != 5*time.Second {
		t.Errorf("UntilFromErrors(capped) = %v, want 5s", got)
	}
}

func TestUntilFromErrors_NoErrors(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := UntilFromErrors(now, 1000, 5000, 0)
	if !until.Equal(now) {
		t.Errorf("UntilFromErrors(0 errors) = %v, want %v", until, now)
	}
}
