package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"consolegate/internal/credential"
	"consolegate/internal/domain"
	gw "consolegate/internal/gateway"
	"consolegate/internal/platform/telemetry"
	"consolegate/internal/refresh"
	"consolegate/internal/routes"
)

// GuardState is the outcome of one guard pass over a navigation.
type GuardState int

const (
	GuardUnauthenticated GuardState = iota
	GuardExpiredRetry
	GuardForcedRedirect
	GuardPermissionCheck
	GuardAllowed
	GuardDenied
)

func (s GuardState) String() string {
	switch s {
	case GuardUnauthenticated:
		return "unauthenticated"
	case GuardExpiredRetry:
		return "expired_retry"
	case GuardForcedRedirect:
		return "forced_redirect"
	case GuardPermissionCheck:
		return "permission_check"
	case GuardAllowed:
		return "allowed"
	case GuardDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// GuardConfig configures the route guard.
type GuardConfig struct {
	Table *routes.Table
	// Refresher renews expired sessions. It is called directly, server to
	// server, with the refresh token from the request's cookie.
	Refresher refresh.Refresher

	// PublicPaths bypass the guard on exact match; SkipPrefixes on prefix.
	PublicPaths  []string
	SkipPrefixes []string

	SignInPath      string
	RemediationPath string
	Cookies         credential.CookieOptions
	Budget          int

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Guard returns middleware that gates console navigations on the session
// credential: sign-in when there is none, one renewal when it has expired,
// remediation when the account link is broken, and the route table's
// permission decision otherwise.
//
// The token is decoded without signature verification. Upstreams that act on
// the session verify it themselves.
func Guard(cfg GuardConfig) Middleware {
	g := newGuard(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.bypass(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, next)
		})
	}
}

type guard struct {
	cfg    GuardConfig
	public map[string]struct{}
}

func newGuard(cfg GuardConfig) *guard {
	if cfg.SignInPath == "" {
		cfg.SignInPath = "/login"
	}
	if cfg.RemediationPath == "" {
		cfg.RemediationPath = "/zalo-link"
	}
	if cfg.Budget <= 0 {
		cfg.Budget = credential.DefaultBudget
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	public := make(map[string]struct{}, len(cfg.PublicPaths)+1)
	public[cfg.SignInPath] = struct{}{}
	for _, p := range cfg.PublicPaths {
		public[p] = struct{}{}
	}
	return &guard{cfg: cfg, public: public}
}

func (g *guard) bypass(path string) bool {
	if _, ok := g.public[path]; ok {
		return true
	}
	for _, p := range g.cfg.SkipPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	cred := credential.ReadCookies(r)
	if cred.AccessToken == "" {
		g.signIn(w, r, GuardUnauthenticated, false)
		return
	}

	claims, err := credential.DecodeClaims(cred.AccessToken)
	if err != nil {
		g.cfg.Logger.Debug("session cookie rejected", "error", err, "path", r.URL.Path)
		g.signIn(w, r, GuardUnauthenticated, true)
		return
	}

	access := cred.AccessToken
	if claims.Expired(g.cfg.Now()) {
		g.record(r, GuardExpiredRetry)
		var ok bool
		access, claims, ok = g.renew(w, r, cred)
		if !ok {
			g.signIn(w, r, GuardUnauthenticated, true)
			return
		}
	}

	path := r.URL.Path
	if claims.LinkStatus == domain.LinkStatusBroken {
		if path != g.cfg.RemediationPath {
			g.redirect(w, r, GuardForcedRedirect, g.cfg.RemediationPath)
			return
		}
		g.admit(w, r, next, claims, access)
		return
	}

	g.record(r, GuardPermissionCheck)
	allowed, mapped := true, false
	if g.cfg.Table != nil {
		allowed, mapped = g.cfg.Table.Decide(claims, path)
	}
	if allowed {
		g.admit(w, r, next, claims, access)
		return
	}

	if dest, ok := g.cfg.Table.FirstAllowed(claims, path); ok {
		g.cfg.Logger.Debug("route denied, redirecting",
			"path", path, "mapped", mapped, "destination", dest, "principal_id", claims.Subject)
		g.redirect(w, r, GuardDenied, dest)
		return
	}

	g.record(r, GuardDenied)
	g.cfg.Logger.Info("route denied with no permitted destination",
		"path", path, "principal_id", claims.Subject)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	if err := json.NewEncoder(w).Encode(domain.ErrorResponse{
		Error:   "forbidden",
		Message: "no permitted destination",
	}); err != nil {
		g.cfg.Logger.Error("encoding error response", "error", err)
	}
}

// renew exchanges the request's refresh token for a new pair, writes the
// compacted credential back as cookies, and rewrites the inbound request so
// the rest of the chain sees the renewed token.
func (g *guard) renew(w http.ResponseWriter, r *http.Request, cred domain.Credential) (string, domain.Claims, bool) {
	if cred.RefreshToken == "" {
		g.cfg.Logger.Debug("expired session without refresh token", "path", r.URL.Path)
		return "", domain.Claims{}, false
	}
	if g.cfg.Refresher == nil {
		return "", domain.Claims{}, false
	}

	pair, err := g.cfg.Refresher.Refresh(r.Context(), cred.RefreshToken)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrUnauthorized) {
			level = slog.LevelInfo
		}
		g.cfg.Logger.Log(r.Context(), level, "session renewal failed",
			"error", err, "path", r.URL.Path, "request_id", gw.RequestIDFromContext(r.Context()))
		return "", domain.Claims{}, false
	}

	claims, err := credential.DecodeClaims(pair.AccessToken)
	if err != nil || claims.Expired(g.cfg.Now()) {
		g.cfg.Logger.Warn("renewed access token unusable", "error", err, "path", r.URL.Path)
		return "", domain.Claims{}, false
	}

	access, strategy := credential.Compact(pair.AccessToken, g.cfg.Budget)
	if strategy != credential.StrategyNone {
		g.cfg.Metrics.RecordCompaction(r.Context(), string(strategy))
	}
	if strategy == credential.StrategyTruncated {
		g.cfg.Logger.Warn("renewed access token truncated to fit cookie",
			"original_len", len(pair.AccessToken), "budget", g.cfg.Budget)
	}

	renewed := domain.Credential{AccessToken: access, RefreshToken: pair.RefreshToken}
	if renewed.RefreshToken == "" {
		renewed.RefreshToken = cred.RefreshToken
	}
	credential.WriteCookies(w, renewed, g.cfg.Cookies)
	credential.ReplaceRequestCookies(r, renewed)

	g.cfg.Logger.Debug("session renewed at edge", "principal_id", claims.Subject, "strategy", string(strategy))
	return access, claims, true
}

func (g *guard) admit(w http.ResponseWriter, r *http.Request, next http.Handler, claims domain.Claims, access string) {
	g.record(r, GuardAllowed)
	ctx := gw.ContextWithClaims(r.Context(), claims)
	ctx = gw.ContextWithAccessToken(ctx, access)
	r = r.WithContext(ctx)
	markSeen(r)
	next.ServeHTTP(w, r)
}

// signIn sends the user to the sign-in route with the current location as
// callbackUrl, optionally expiring the credential cookies first.
func (g *guard) signIn(w http.ResponseWriter, r *http.Request, state GuardState, clear bool) {
	if clear {
		credential.ClearCookies(w, g.cfg.Cookies)
	}
	target := g.cfg.SignInPath + "?" + url.Values{"callbackUrl": {r.URL.RequestURI()}}.Encode()
	g.redirect(w, r, state, target)
}

func (g *guard) redirect(w http.ResponseWriter, r *http.Request, state GuardState, target string) {
	g.record(r, state)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

func (g *guard) record(r *http.Request, state GuardState) {
	g.cfg.Logger.Debug("guard", "state", state.String(), "path", r.URL.Path)
	g.cfg.Metrics.RecordGuardDecision(r.Context(), state.String())
}
