package embedclient

import (
	"sync"
	"testing"
)

func TestLimiter_TracksPeakConcurrency(t *testing.T) {
	l := NewLimiter(2)
	var wg sync.WaitGroup
	start := make(chan struct{})
	block := make(chan struct{})

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Execute(func() error {
				start <- struct{}{}
				<-block
				return nil
			})
		}()
	}

	<-start
	<-start
	if l.Peak() != 2 {
		t.Fatalf("Peak() = %d, want 2", l.Peak())
	}
	close(block)
	wg.Wait()

	if l.InUse() != 0 {
		t.Fatalf("InUse() = %d after completion, want 0", l.InUse())
	}
}
