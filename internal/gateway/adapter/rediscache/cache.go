// Package rediscache parks edge refresh results in Redis so every edge
// replica sees a renewal performed by any of them.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"consolegate/internal/domain"
)

const (
	keyPrefix   = "consolegate:refresh:"
	pingTimeout = 2 * time.Second
)

// Open connects to Redis at addr and checks connectivity with PING.
func Open(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Cache is a refresh.ResultCache backed by Redis string keys with a TTL.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New creates a Cache whose entries expire after ttl.
func New(client redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, key string) (domain.TokenPair, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.TokenPair{}, false, nil
	}
	if err != nil {
		return domain.TokenPair{}, false, fmt.Errorf("reading refresh result: %w", err)
	}

	var pair domain.TokenPair
	if err := json.Unmarshal(raw, &pair); err != nil {
		return domain.TokenPair{}, false, fmt.Errorf("decoding refresh result: %w", err)
	}
	return pair, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, pair domain.TokenPair) error {
	raw, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("encoding refresh result: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing refresh result: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("deleting refresh result: %w", err)
	}
	return nil
}
