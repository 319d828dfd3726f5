package refresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"consolegate/internal/domain"
)

// ResultCache parks recent refresh outcomes keyed by a digest of the refresh
// token that produced them. Refresh tokens rotate, so navigations that still
// carry the old token after a renewal find the new pair here instead of
// presenting a spent token upstream.
type ResultCache interface {
	Get(ctx context.Context, key string) (domain.TokenPair, bool, error)
	Put(ctx context.Context, key string, pair domain.TokenPair) error
	Delete(ctx context.Context, key string) error
}

// Group is the edge's refresh path. Unlike a Coordinator it serves many
// sessions, so renewals are single-flighted per refresh token.
type Group struct {
	refresher Refresher
	cache     ResultCache
	opts      Options

	flights singleflight.Group
}

// NewGroup creates a Group. cache may be nil.
func NewGroup(refresher Refresher, cache ResultCache, opts Options) *Group {
	return &Group{
		refresher: refresher,
		cache:     cache,
		opts:      opts.withDefaults(),
	}
}

// Refresh exchanges refreshToken for a new pair, sharing the upstream call
// with concurrent callers presenting the same token. Like Coordinator.Renew,
// the shared call outlives any single caller's ctx.
func (g *Group) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	if refreshToken == "" {
		return domain.TokenPair{}, domain.ErrNoRefreshToken
	}
	key := CacheKey(refreshToken)

	if pair, ok := g.cached(ctx, key); ok {
		return pair, nil
	}

	g.opts.Metrics.AddRefreshWaiters(ctx, callerEdge, 1)
	defer g.opts.Metrics.AddRefreshWaiters(ctx, callerEdge, -1)

	ch := g.flights.DoChan(key, func() (any, error) {
		return g.refresh(context.WithoutCancel(ctx), key, refreshToken)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.TokenPair{}, res.Err
		}
		return res.Val.(domain.TokenPair), nil
	case <-ctx.Done():
		return domain.TokenPair{}, ctx.Err()
	}
}

func (g *Group) refresh(ctx context.Context, key, refreshToken string) (domain.TokenPair, error) {
	// A flight for this key may have finished between the cache miss and now.
	if pair, ok := g.cached(ctx, key); ok {
		return pair, nil
	}

	pair, err := g.refresher.Refresh(ctx, refreshToken)
	if err == nil && pair.AccessToken == "" {
		err = errors.New("response has no access token")
	}
	if err != nil {
		g.opts.Metrics.RecordRefreshAttempt(ctx, callerEdge, "failure")
		return domain.TokenPair{}, fmt.Errorf("%w: %w", domain.ErrRefreshFailed, err)
	}
	g.opts.Metrics.RecordRefreshAttempt(ctx, callerEdge, "success")

	if g.cache != nil {
		if err := g.cache.Put(ctx, key, pair); err != nil {
			g.opts.Logger.Warn("parking refresh result failed", "error", err)
		}
	}
	return pair, nil
}

func (g *Group) cached(ctx context.Context, key string) (domain.TokenPair, bool) {
	if g.cache == nil {
		return domain.TokenPair{}, false
	}
	pair, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.opts.Logger.Warn("refresh result cache lookup failed", "error", err)
		return domain.TokenPair{}, false
	}
	if ok {
		g.opts.Logger.Debug("refresh result served from cache")
	}
	return pair, ok
}

// Forget drops the parked result for refreshToken so a signed-out session
// cannot be revived from the cache by replaying its old refresh cookie.
func (g *Group) Forget(ctx context.Context, refreshToken string) error {
	if refreshToken == "" || g.cache == nil {
		return nil
	}
	key := CacheKey(refreshToken)
	g.flights.Forget(key)
	if err := g.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("forgetting refresh result: %w", err)
	}
	return nil
}

// CacheKey derives the cache and flight key for a refresh token so the raw
// token is never used as a key in a shared store.
func CacheKey(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}
