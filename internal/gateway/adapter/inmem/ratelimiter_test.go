package inmem_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"consolegate/internal/gateway/adapter/inmem"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRateLimiterBurstThenDeny(t *testing.T) {
	clock := newFakeClock()
	rl := inmem.NewRateLimiter(10, 5, clock.Now)

	for i := range 5 {
		if !rl.Allow("10.0.0.1").Allowed {
			t.Errorf("request %d should fit the burst", i)
		}
	}
	res := rl.Allow("10.0.0.1")
	if res.Allowed {
		t.Fatal("request beyond burst should be denied")
	}
	if res.RetryAfter < 1 {
		t.Errorf("expected RetryAfter >= 1, got %d", res.RetryAfter)
	}
}

func TestRateLimiterRefill(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		burst   int
		advance time.Duration
		want    int
	}{
		{"partial refill", 10, 2, 200 * time.Millisecond, 2},
		{"capped at burst", 10, 3, time.Second, 3},
		{"not enough time", 1, 2, 500 * time.Millisecond, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			rl := inmem.NewRateLimiter(tt.rate, tt.burst, clock.Now)
			for range tt.burst {
				rl.Allow("k")
			}

			clock.Advance(tt.advance)
			allowed := 0
			for range 10 {
				if rl.Allow("k").Allowed {
					allowed++
				}
			}
			if allowed != tt.want {
				t.Errorf("expected %d allowed after refill, got %d", tt.want, allowed)
			}
		})
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := inmem.NewRateLimiter(10, 1, newFakeClock().Now)

	rl.Allow("a")
	if rl.Allow("a").Allowed {
		t.Error("a should be exhausted")
	}
	if !rl.Allow("b").Allowed {
		t.Error("b has its own bucket")
	}
}

func TestRateLimiterConcurrentSameKey(t *testing.T) {
	rl := inmem.NewRateLimiter(100, 10, newFakeClock().Now)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("same").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("expected exactly the burst of 10, got %d", allowed)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	clock := newFakeClock()
	rl := inmem.NewRateLimiter(10, 5, clock.Now)

	for i := range 20 {
		rl.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	clock.Advance(5 * time.Minute)
	rl.Allow("10.0.0.0")

	clock.Advance(6 * time.Minute)
	rl.Cleanup()

	if n := rl.BucketCount(); n != 1 {
		t.Errorf("expected only the recently seen bucket to survive, got %d", n)
	}
}

func TestRateLimiterJanitorStops(t *testing.T) {
	clock := newFakeClock()
	rl := inmem.NewRateLimiter(10, 5, clock.Now)
	rl.Allow("idle")
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for rl.BucketCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("janitor never swept the idle bucket")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
}
