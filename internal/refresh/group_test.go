package refresh_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"consolegate/internal/domain"
	"consolegate/internal/refresh"
)

type mapCache struct {
	mu      sync.Mutex
	entries map[string]domain.TokenPair
	err     error
}

func newMapCache() *mapCache { return &mapCache{entries: map[string]domain.TokenPair{}} }

func (c *mapCache) Get(_ context.Context, key string) (domain.TokenPair, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return domain.TokenPair{}, false, c.err
	}
	p, ok := c.entries[key]
	return p, ok, nil
}

func (c *mapCache) Put(_ context.Context, key string, pair domain.TokenPair) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.entries[key] = pair
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	delete(c.entries, key)
	return nil
}

func TestGroupSharesFlightPerToken(t *testing.T) {
	var calls atomic.Int64
	group := refresh.NewGroup(refresherFunc(func(_ context.Context, rt string) (domain.TokenPair, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return domain.TokenPair{AccessToken: "access-for-" + rt, RefreshToken: rt + "-next"}, nil
	}), nil, refresh.Options{})

	const n = 10
	var wg sync.WaitGroup
	results := make([]domain.TokenPair, 2*n)
	for i := range 2 * n {
		rt := "rt-a"
		if i%2 == 1 {
			rt = "rt-b"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pair, err := group.Refresh(context.Background(), rt)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = pair
		}()
	}
	wg.Wait()

	if calls.Load() != 2 {
		t.Errorf("expected one call per refresh token, got %d", calls.Load())
	}
	for i, pair := range results {
		want := "access-for-rt-a"
		if i%2 == 1 {
			want = "access-for-rt-b"
		}
		if pair.AccessToken != want {
			t.Errorf("result %d: expected %s, got %s", i, want, pair.AccessToken)
		}
	}
}

func TestGroupServesSpentTokenFromCache(t *testing.T) {
	var calls atomic.Int64
	cache := newMapCache()
	group := refresh.NewGroup(refresherFunc(func(_ context.Context, rt string) (domain.TokenPair, error) {
		if calls.Add(1) > 1 {
			return domain.TokenPair{}, errors.New("refresh token already used")
		}
		return domain.TokenPair{AccessToken: "fresh", RefreshToken: "rt-2"}, nil
	}), cache, refresh.Options{})

	first, err := group.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	second, err := group.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("second refresh with the spent token should hit the cache: %v", err)
	}
	if first != second {
		t.Errorf("expected identical pairs, got %+v and %+v", first, second)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls.Load())
	}
	if _, ok := cache.entries[refresh.CacheKey("rt-1")]; !ok {
		t.Error("expected result parked under the token digest")
	}
}

func TestGroupForgetDropsParkedResult(t *testing.T) {
	var calls atomic.Int64
	cache := newMapCache()
	group := refresh.NewGroup(refresherFunc(func(_ context.Context, rt string) (domain.TokenPair, error) {
		if calls.Add(1) > 1 {
			return domain.TokenPair{}, domain.ErrUnauthorized
		}
		return domain.TokenPair{AccessToken: "fresh", RefreshToken: "rt-2"}, nil
	}), cache, refresh.Options{})

	if _, err := group.Refresh(context.Background(), "rt-1"); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if err := group.Forget(context.Background(), "rt-1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, ok := cache.entries[refresh.CacheKey("rt-1")]; ok {
		t.Error("expected parked result removed")
	}
	// The spent token now goes upstream and is rejected there.
	if _, err := group.Refresh(context.Background(), "rt-1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized after forget, got %v", err)
	}
	if err := group.Forget(context.Background(), ""); err != nil {
		t.Errorf("forgetting an empty token should be a no-op, got %v", err)
	}
}

func TestGroupCacheErrorsFallThrough(t *testing.T) {
	cache := newMapCache()
	cache.err = errors.New("redis down")
	group := refresh.NewGroup(refresherFunc(func(context.Context, string) (domain.TokenPair, error) {
		return domain.TokenPair{AccessToken: "fresh"}, nil
	}), cache, refresh.Options{})

	pair, err := group.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("cache failures must not fail the refresh: %v", err)
	}
	if pair.AccessToken != "fresh" {
		t.Errorf("expected fresh, got %q", pair.AccessToken)
	}
}

func TestGroupFailures(t *testing.T) {
	tests := []struct {
		name string
		rt   string
		resp domain.TokenPair
		err  error
		want error
	}{
		{"no refresh token", "", domain.TokenPair{}, nil, domain.ErrNoRefreshToken},
		{"upstream error", "rt", domain.TokenPair{}, errors.New("500"), domain.ErrRefreshFailed},
		{"missing access token", "rt", domain.TokenPair{RefreshToken: "x"}, nil, domain.ErrRefreshFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newMapCache()
			group := refresh.NewGroup(refresherFunc(func(context.Context, string) (domain.TokenPair, error) {
				return tt.resp, tt.err
			}), cache, refresh.Options{})

			_, err := group.Refresh(context.Background(), tt.rt)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if len(cache.entries) != 0 {
				t.Error("failures must not be cached")
			}
		})
	}
}

func TestCacheKey(t *testing.T) {
	key := refresh.CacheKey("rt-1")
	if len(key) != 64 {
		t.Errorf("expected hex sha256, got %q", key)
	}
	if key == refresh.CacheKey("rt-2") {
		t.Error("different tokens must have different keys")
	}
	if key != refresh.CacheKey("rt-1") {
		t.Error("key must be stable")
	}
}
