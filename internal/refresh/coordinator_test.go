package refresh_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"consolegate/internal/credential"
	"consolegate/internal/domain"
	"consolegate/internal/refresh"
	"consolegate/internal/testutil"
)

type refresherFunc func(ctx context.Context, refreshToken string) (domain.TokenPair, error)

func (f refresherFunc) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	return f(ctx, refreshToken)
}

// gatedRefresher blocks every call until release is closed.
type gatedRefresher struct {
	calls   atomic.Int64
	release chan struct{}
	pair    domain.TokenPair
	err     error

	mu   sync.Mutex
	seen []string
}

func newGatedRefresher(pair domain.TokenPair, err error) *gatedRefresher {
	return &gatedRefresher{release: make(chan struct{}), pair: pair, err: err}
}

func (g *gatedRefresher) Refresh(_ context.Context, refreshToken string) (domain.TokenPair, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.seen = append(g.seen, refreshToken)
	g.mu.Unlock()
	<-g.release
	return g.pair, g.err
}

func newStore(access, refreshToken string) *credential.Store {
	store := credential.NewStore(&credential.MemorySlot{}, 0, nil)
	if access != "" || refreshToken != "" {
		store.Set(access, refreshToken)
	}
	return store
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

// renewAll starts n concurrent Renew calls, waits until all are parked, and
// then releases the refresher.
func renewAll(t *testing.T, coord *refresh.Coordinator, gate *gatedRefresher, n int) ([]string, []error) {
	t.Helper()
	tokens := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = coord.Renew(context.Background())
		}()
	}

	waitFor(t, func() bool { return coord.Waiting() == n && gate.calls.Load() >= 1 })
	// Let stragglers between the counter and the flight join it.
	time.Sleep(10 * time.Millisecond)
	close(gate.release)
	wg.Wait()
	return tokens, errs
}

func TestCoordinatorSingleFlightSuccess(t *testing.T) {
	store := newStore("expired-access", "rt-1")
	gate := newGatedRefresher(domain.TokenPair{AccessToken: "fresh-access", RefreshToken: "rt-2"}, nil)
	coord := refresh.NewCoordinator(store, gate, refresh.Options{})

	const n = 25
	tokens, errs := renewAll(t, coord, gate, n)

	if calls := gate.calls.Load(); calls != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", calls)
	}
	for i := range n {
		if errs[i] != nil {
			t.Errorf("caller %d: unexpected error %v", i, errs[i])
		}
		if tokens[i] != "fresh-access" {
			t.Errorf("caller %d: expected fresh-access, got %q", i, tokens[i])
		}
	}

	cred, ok := store.Get()
	if !ok || cred.AccessToken != "fresh-access" || cred.RefreshToken != "rt-2" {
		t.Errorf("unexpected stored credential %+v", cred)
	}
	if gate.seen[0] != "rt-1" {
		t.Errorf("expected refresh with rt-1, got %q", gate.seen[0])
	}
	if coord.Waiting() != 0 {
		t.Errorf("expected no waiters left, got %d", coord.Waiting())
	}
}

func TestCoordinatorSingleFlightFailure(t *testing.T) {
	store := newStore("expired-access", "rt-1")
	gate := newGatedRefresher(domain.TokenPair{}, errors.New("upstream 401"))

	var ended atomic.Int64
	coord := refresh.NewCoordinator(store, gate, refresh.Options{
		OnSessionEnded: func(err error) {
			ended.Add(1)
			if !errors.Is(err, domain.ErrRefreshFailed) {
				t.Errorf("expected ErrRefreshFailed in callback, got %v", err)
			}
		},
	})

	const n = 10
	tokens, errs := renewAll(t, coord, gate, n)

	if calls := gate.calls.Load(); calls != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", calls)
	}
	for i := range n {
		if !errors.Is(errs[i], domain.ErrRefreshFailed) {
			t.Errorf("caller %d: expected ErrRefreshFailed, got %v", i, errs[i])
		}
		if tokens[i] != "" {
			t.Errorf("caller %d: expected no token, got %q", i, tokens[i])
		}
	}
	if _, ok := store.Get(); ok {
		t.Error("store should be cleared after a failed renewal")
	}
	if _, ok := store.RefreshToken(); ok {
		t.Error("refresh token should be cleared too")
	}
	if ended.Load() != 1 {
		t.Errorf("expected OnSessionEnded once, got %d", ended.Load())
	}
}

func TestCoordinatorNoRefreshToken(t *testing.T) {
	store := newStore("expired-access", "")
	var called atomic.Bool
	coord := refresh.NewCoordinator(store, refresherFunc(func(context.Context, string) (domain.TokenPair, error) {
		called.Store(true)
		return domain.TokenPair{}, nil
	}), refresh.Options{})

	_, err := coord.Renew(context.Background())
	if !errors.Is(err, domain.ErrNoRefreshToken) {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}
	if called.Load() {
		t.Error("refresher must not be called without a refresh token")
	}
	if _, ok := store.Get(); ok {
		t.Error("store should be cleared")
	}
}

func TestCoordinatorMissingAccessToken(t *testing.T) {
	store := newStore("expired-access", "rt-1")
	coord := refresh.NewCoordinator(store, refresherFunc(func(context.Context, string) (domain.TokenPair, error) {
		return domain.TokenPair{RefreshToken: "rt-2"}, nil
	}), refresh.Options{})

	_, err := coord.Renew(context.Background())
	if !errors.Is(err, domain.ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
	if _, ok := store.Get(); ok {
		t.Error("store should be cleared")
	}
}

func TestCoordinatorRefreshWithoutAccessToken(t *testing.T) {
	// Only the refresh token survives, e.g. after the access cookie expired.
	slot := &credential.MemorySlot{}
	slot.Save(domain.Credential{RefreshToken: "rt-1"})
	store := credential.NewStore(slot, 0, nil)

	coord := refresh.NewCoordinator(store, refresherFunc(func(_ context.Context, rt string) (domain.TokenPair, error) {
		if rt != "rt-1" {
			t.Errorf("expected rt-1, got %q", rt)
		}
		return domain.TokenPair{AccessToken: "fresh"}, nil
	}), refresh.Options{})

	token, err := coord.Renew(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "fresh" {
		t.Errorf("expected fresh, got %q", token)
	}
	if cred, _ := store.Get(); cred.RefreshToken != "rt-1" {
		t.Errorf("refresh token should be kept when none is returned, got %q", cred.RefreshToken)
	}
}

func TestCoordinatorCompactsRenewedToken(t *testing.T) {
	big := testutil.OversizedToken(t, testutil.TokenSpec{
		Subject: "user-42",
		Roles:   []string{"manager-sales"},
	}, credential.DefaultBudget)

	store := newStore("expired-access", "rt-1")
	coord := refresh.NewCoordinator(store, refresherFunc(func(context.Context, string) (domain.TokenPair, error) {
		return domain.TokenPair{AccessToken: big}, nil
	}), refresh.Options{})

	token, err := coord.Renew(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(token) > credential.DefaultBudget {
		t.Errorf("renewed token has %d chars", len(token))
	}
	claims, err := credential.DecodeClaims(token)
	if err != nil {
		t.Fatalf("renewed token should decode: %v", err)
	}
	if claims.Subject != "user-42" || !claims.HasRole("manager-sales") || claims.ExpiresAt.IsZero() {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestCoordinatorSequentialRenewalsRotate(t *testing.T) {
	store := newStore("a0", "rt-0")
	var seen []string
	n := 0
	coord := refresh.NewCoordinator(store, refresherFunc(func(_ context.Context, rt string) (domain.TokenPair, error) {
		seen = append(seen, rt)
		n++
		return domain.TokenPair{AccessToken: "a" + string(rune('0'+n)), RefreshToken: "rt-" + string(rune('0'+n))}, nil
	}), refresh.Options{})

	for range 2 {
		if _, err := coord.Renew(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(seen) != 2 || seen[0] != "rt-0" || seen[1] != "rt-1" {
		t.Errorf("expected rotated refresh tokens, got %v", seen)
	}
}

func TestCoordinatorRenewFromSkipsWhenAlreadyRenewed(t *testing.T) {
	store := newStore("newer", "rt-1")
	var calls atomic.Int64
	coord := refresh.NewCoordinator(store, refresherFunc(func(context.Context, string) (domain.TokenPair, error) {
		calls.Add(1)
		return domain.TokenPair{AccessToken: "newest"}, nil
	}), refresh.Options{})

	token, err := coord.RenewFrom(context.Background(), "older")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "newer" {
		t.Errorf("expected stored token newer, got %q", token)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no refresh call, got %d", calls.Load())
	}

	if token, _ := coord.RenewFrom(context.Background(), "newer"); token != "newest" {
		t.Errorf("expected renewal when the stale token is current, got %q", token)
	}
}

func TestCoordinatorRenewFromAfterEndedSession(t *testing.T) {
	store := newStore("expired", "rt-1")
	var calls, ended atomic.Int64
	coord := refresh.NewCoordinator(store, refresherFunc(func(context.Context, string) (domain.TokenPair, error) {
		calls.Add(1)
		return domain.TokenPair{}, domain.ErrUnauthorized
	}), refresh.Options{OnSessionEnded: func(error) { ended.Add(1) }})

	if _, err := coord.RenewFrom(context.Background(), "expired"); !errors.Is(err, domain.ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}

	// A request that was in flight with the old token is rejected after the
	// session has already ended.
	_, err := coord.RenewFrom(context.Background(), "expired")
	if !errors.Is(err, domain.ErrNoRefreshToken) {
		t.Errorf("expected ErrNoRefreshToken, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 refresh call, got %d", calls.Load())
	}
	if ended.Load() != 1 {
		t.Errorf("session end should be reported once, got %d", ended.Load())
	}
}

func TestCoordinatorCallerCancellationDoesNotAbortRenewal(t *testing.T) {
	store := newStore("expired-access", "rt-1")
	gate := newGatedRefresher(domain.TokenPair{AccessToken: "fresh"}, nil)
	coord := refresh.NewCoordinator(store, gate, refresh.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := coord.Renew(ctx)
		errc <- err
	}()

	waitFor(t, func() bool { return gate.calls.Load() == 1 })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(gate.release)
	waitFor(t, func() bool {
		cred, ok := store.Get()
		return ok && cred.AccessToken == "fresh"
	})
}
