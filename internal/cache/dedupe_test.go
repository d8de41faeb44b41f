package cache

import (
	"testing"
	"time"
)

func TestDedupeCache_TTLExpiry(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{TTL: 100 * time.Millisecond})
	base := time.Unix(0, 0)

	if c.CheckAt("q1", base) {
		t.Fatal("first check should not be a duplicate")
	}
	if !c.CheckAt("q1", base.Add(50*time.Millisecond)) {
		t.Fatal("check within TTL should be a duplicate")
	}
	if c.CheckAt("q1", base.Add(200*time.Millisecond)) {
		t.Fatal("check past TTL should not be a duplicate")
	}
}

func TestDedupeCache_MaxSizeEviction(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{MaxSize: 2})
	now := time.Now()
	c.CheckAt("a", now)
	c.CheckAt("b", now)
	c.CheckAt("c", now) // evicts "a"

	if c.CheckAt("a", now) {
		t.Fatal("expected a to have been evicted, so this check should not report duplicate")
	}
}

func TestDedupeCache_EmptyKeyNeverDuplicate(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{})
	if c.Check("") {
		t.Fatal("empty key must never be treated as duplicate")
	}
	if c.Check("") {
		t.Fatal("empty key must never be treated as duplicate")
	}
}

func TestRepeatCounter(t *testing.T) {
	r := NewRepeatCounter()
	if got := r.Increment("fp1"); got != 1 {
		t.Fatalf("first increment = %d, want 1", got)
	}
	if got := r.Increment("fp1"); got != 2 {
		t.Fatalf("second increment = %d, want 2", got)
	}
	r.Reset()
	if got := r.Increment("fp1"); got != 1 {
		t.Fatalf("post-reset increment = %d, want 1", got)
	}
}

func TestConsecutiveRing(t *testing.T) {
	r := NewConsecutiveRing(3)
	if r.AllSame() {
		t.Fatal("empty ring must not report AllSame")
	}
	r.Push("h1")
	r.Push("h1")
	if r.AllSame() {
		t.Fatal("ring below window size must not report AllSame")
	}
	r.Push("h1")
	if !r.AllSame() {
		t.Fatal("three identical pushes should report AllSame")
	}
	r.Push("h2")
	if r.AllSame() {
		t.Fatal("window sliding in a different hash should break AllSame")
	}
}
