package cache

import (
	"sync"
	"time"
)

// DedupeCache provides time-limited membership tracking: Check reports
// whether a key was already seen within TTL and records it either way.
type DedupeCache struct {
	mu      sync.Mutex
	cache   map[string]int64 // key -> timestamp (unix ms)
	order   []string         // insertion order, oldest first
	ttl     time.Duration
	maxSize int
}

// DedupeCacheOptions configures TTL-based and size-based eviction. A
// zero TTL means entries never expire by age; a zero MaxSize means
// entries never expire by count.
type DedupeCacheOptions struct {
	TTL     time.Duration
	MaxSize int
}

// NewDedupeCache creates a deduplication cache with the given options.
func NewDedupeCache(opts DedupeCacheOptions) *DedupeCache {
	if opts.TTL < 0 {
		opts.TTL = 0
	}
	if opts.MaxSize < 0 {
		opts.MaxSize = 0
	}
	return &DedupeCache{
		cache:   make(map[string]int64),
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
	}
}

// Check reports whether key was seen within TTL, then records it as
// seen at the current time.
func (c *DedupeCache) Check(key string) bool {
	return c.CheckAt(key, time.Now())
}

// CheckAt is Check with an injected timestamp, for deterministic tests.
func (c *DedupeCache) CheckAt(key string, now time.Time) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	nowUnix := now.UnixMilli()
	if existing, ok := c.cache[key]; ok {
		if c.ttl <= 0 || nowUnix-existing < c.ttl.Milliseconds() {
			c.touch(key, nowUnix)
			return true
		}
	}

	c.touch(key, nowUnix)
	c.prune(nowUnix)
	return false
}

func (c *DedupeCache) touch(key string, timestamp int64) {
	if _, existed := c.cache[key]; existed {
		c.removeFromOrder(key)
	}
	c.cache[key] = timestamp
	c.order = append(c.order, key)
}

func (c *DedupeCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *DedupeCache) prune(nowUnix int64) {
	if c.ttl > 0 {
		cutoff := nowUnix - c.ttl.Milliseconds()
		for key, ts := range c.cache {
			if ts < cutoff {
				delete(c.cache, key)
				c.removeFromOrder(key)
			}
		}
	}
	for c.maxSize > 0 && len(c.order) > c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.cache, oldest)
	}
}

// Recent returns the most recent n keys, newest last.
func (c *DedupeCache) Recent(n int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n > len(c.order) {
		n = len(c.order)
	}
	out := make([]string, n)
	copy(out, c.order[len(c.order)-n:])
	return out
}
