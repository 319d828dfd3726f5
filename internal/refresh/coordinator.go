// Package refresh renews expired access tokens. A Coordinator serializes
// renewals for one credential store; a Group does the same at the edge, keyed
// by refresh token.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"consolegate/internal/credential"
	"consolegate/internal/domain"
	"consolegate/internal/platform/telemetry"
)

// Refresher exchanges a refresh token for a new token pair at the issuing
// backend.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error)
}

// Caller labels for metrics.
const (
	callerClient = "client"
	callerEdge   = "edge"
)

// renewKey is the single singleflight key: one store holds one credential.
const renewKey = "renew"

// Options configures a Coordinator or a Group. All fields are optional.
type Options struct {
	Logger  *slog.Logger
	Metrics *telemetry.Metrics

	// OnSessionEnded runs once per failed renewal, after the store is cleared.
	// Callers typically route the user to sign-in from here.
	OnSessionEnded func(err error)

	// Now is injectable for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Coordinator guarantees at most one renewal in flight for its store.
// Callers arriving while a renewal runs wait for that renewal's outcome
// instead of starting another.
type Coordinator struct {
	store     *credential.Store
	refresher Refresher
	opts      Options

	group   singleflight.Group
	waiting atomic.Int64
}

// NewCoordinator creates a Coordinator that renews the credential held in store.
func NewCoordinator(store *credential.Store, refresher Refresher, opts Options) *Coordinator {
	return &Coordinator{
		store:     store,
		refresher: refresher,
		opts:      opts.withDefaults(),
	}
}

// Renew obtains a new access token, joining an in-flight renewal if there is
// one. On success the new credential is already stored and the returned token
// is the stored (possibly compacted) form. On failure the store has been
// cleared and every caller sharing the renewal receives the same error.
//
// The renewal itself is not tied to ctx: a caller that gives up stops waiting
// but the call runs to completion for everyone else.
func (c *Coordinator) Renew(ctx context.Context) (string, error) {
	return c.RenewFrom(ctx, "")
}

// RenewFrom is Renew for a caller that was rejected while presenting stale.
// If the stored token has already moved on from stale, that token is
// returned without another upstream call.
func (c *Coordinator) RenewFrom(ctx context.Context, stale string) (string, error) {
	c.waiting.Add(1)
	c.opts.Metrics.AddRefreshWaiters(ctx, callerClient, 1)
	defer func() {
		c.waiting.Add(-1)
		c.opts.Metrics.AddRefreshWaiters(ctx, callerClient, -1)
	}()

	ch := c.group.DoChan(renewKey, func() (any, error) {
		if stale != "" {
			cred, ok := c.store.Get()
			if ok && cred.AccessToken != stale {
				return cred.AccessToken, nil
			}
			// A failed flight already cleared the store and ended the session.
			if _, held := c.store.RefreshToken(); !ok && !held {
				return "", domain.ErrNoRefreshToken
			}
		}
		return c.renew(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Waiting reports how many callers are currently inside Renew.
func (c *Coordinator) Waiting() int {
	return int(c.waiting.Load())
}

func (c *Coordinator) renew(ctx context.Context) (string, error) {
	start := c.opts.Now()

	refreshToken, ok := c.store.RefreshToken()
	if !ok {
		return "", c.fail(ctx, domain.ErrNoRefreshToken)
	}

	pair, err := c.refresher.Refresh(ctx, refreshToken)
	if err == nil && pair.AccessToken == "" {
		err = errors.New("response has no access token")
	}
	if err != nil {
		return "", c.fail(ctx, fmt.Errorf("%w: %w", domain.ErrRefreshFailed, err))
	}

	strategy := c.store.Set(pair.AccessToken, pair.RefreshToken)
	if strategy != credential.StrategyNone {
		c.opts.Metrics.RecordCompaction(ctx, string(strategy))
	}
	c.opts.Metrics.RecordRefreshAttempt(ctx, callerClient, "success")
	c.opts.Logger.Debug("access token renewed",
		"duration_ms", c.opts.Now().Sub(start).Milliseconds(),
		"rotated", pair.RefreshToken != "",
	)

	renewed, ok := c.store.Get()
	if !ok {
		return "", c.fail(ctx, fmt.Errorf("%w: credential vanished after renewal", domain.ErrRefreshFailed))
	}
	return renewed.AccessToken, nil
}

func (c *Coordinator) fail(ctx context.Context, err error) error {
	c.store.Clear()
	c.opts.Metrics.RecordRefreshAttempt(ctx, callerClient, "failure")
	c.opts.Logger.Warn("token renewal failed, session ended", "error", err)
	if c.opts.OnSessionEnded != nil {
		c.opts.OnSessionEnded(err)
	}
	return err
}
