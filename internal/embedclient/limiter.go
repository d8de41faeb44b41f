// Package embedclient implements the Embedding & Rerank Client (C3):
// HTTP calls to an OpenAI-compatible embeddings endpoint and a rerank
// endpoint, with retry, adaptive truncation, and per-endpoint
// concurrency limiting.
package embedclient

import "sync"

// Limiter is a counting semaphore bounding concurrent calls to one
// endpoint class (embedding, rerank, LLM, analysis) while tracking peak
// concurrency for observability, the same semaphore-plus-peak-tracking
// shape toolkit.Executor uses for bounding tool concurrency, pulled out
// here as a standalone reusable type.
type Limiter struct {
	sem chan struct{}

	mu      sync.Mutex
	inUse   int
	peak    int
}

// NewLimiter creates a Limiter bounded to size concurrent holders. A
// non-positive size defaults to 1.
func NewLimiter(size int) *Limiter {
	if size <= 0 {
		size = 1
	}
	return &Limiter{sem: make(chan struct{}, size)}
}

// Execute runs op while holding a semaphore slot, blocking if the
// limiter is saturated.
func (l *Limiter) Execute(op func() error) error {
	l.sem <- struct{}{}
	l.mu.Lock()
	l.inUse++
	if l.inUse > l.peak {
		l.peak = l.inUse
	}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.inUse--
		l.mu.Unlock()
		<-l.sem
	}()

	return op()
}

// Peak returns the highest observed concurrent holder count.
func (l *Limiter) Peak() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}

// InUse returns the current number of concurrent holders.
func (l *Limiter) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inUse
}
