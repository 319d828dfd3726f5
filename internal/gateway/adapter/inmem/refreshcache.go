package inmem

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"consolegate/internal/domain"
)

// RefreshCache parks edge refresh results in a bounded, expiring LRU. It is
// the single-instance ResultCache; deployments with several edge replicas
// use the Redis one.
type RefreshCache struct {
	lru *expirable.LRU[string, domain.TokenPair]
}

// NewRefreshCache holds up to size results for ttl each.
func NewRefreshCache(size int, ttl time.Duration) *RefreshCache {
	return &RefreshCache{lru: expirable.NewLRU[string, domain.TokenPair](size, nil, ttl)}
}

func (c *RefreshCache) Get(_ context.Context, key string) (domain.TokenPair, bool, error) {
	pair, ok := c.lru.Get(key)
	return pair, ok, nil
}

func (c *RefreshCache) Put(_ context.Context, key string, pair domain.TokenPair) error {
	c.lru.Add(key, pair)
	return nil
}

func (c *RefreshCache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Len returns the number of parked results, expired ones included until swept.
func (c *RefreshCache) Len() int {
	return c.lru.Len()
}
