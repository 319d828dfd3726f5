package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"consolegate/internal/credential"
	"consolegate/internal/domain"
	gw "consolegate/internal/gateway"
	"consolegate/internal/platform/telemetry"
	"consolegate/internal/routes"
)

// Principal headers set for upstreams. Inbound copies are always dropped so a
// client cannot assert its own identity.
const (
	HeaderPrincipalID    = "X-Principal-ID"
	HeaderPrincipalRoles = "X-Principal-Roles"
)

// Config describes the upstreams and session settings of a Router.
type Config struct {
	ConsoleURL string
	APIURL     string
	AuthURL    string
	SignInPath string
	Cookies    credential.CookieOptions
	Table      *routes.Table
	// Sessions, when set, is told about every sign-out so parked refresh
	// results for the presented refresh token are dropped.
	Sessions SessionForgetter
}

// SessionForgetter drops edge state held for a refresh token.
type SessionForgetter interface {
	Forget(ctx context.Context, refreshToken string) error
}

// upstream is one proxy target.
type upstream struct {
	name   string // metrics label
	target *url.URL
	// bearer attaches the session's access token as Authorization.
	bearer bool
	// principal forwards the admitted claims as headers.
	principal bool
}

// Router dispatches requests at the edge: console pages, the business API,
// the auth backend, and a few endpoints the edge serves itself.
type Router struct {
	mux     *http.ServeMux
	cfg     Config
	metrics *telemetry.Metrics
}

// NewRouter creates a router for cfg.
// The metrics parameter is optional; pass nil to skip metric recording.
func NewRouter(cfg Config, m *telemetry.Metrics) (*Router, error) {
	console, err := parseUpstream("console", cfg.ConsoleURL)
	if err != nil {
		return nil, err
	}
	api, err := parseUpstream("api", cfg.APIURL)
	if err != nil {
		return nil, err
	}
	auth, err := parseUpstream("auth", cfg.AuthURL)
	if err != nil {
		return nil, err
	}
	if cfg.SignInPath == "" {
		cfg.SignInPath = "/login"
	}

	api.bearer = true
	console.principal = true

	r := &Router{mux: http.NewServeMux(), cfg: cfg, metrics: m}

	r.mux.HandleFunc("GET /healthz", r.healthz)
	r.mux.HandleFunc("GET /readyz", r.readyz)
	r.mux.HandleFunc("GET /session", r.session)
	r.mux.HandleFunc("POST /auth/logout", r.logout)

	r.mux.Handle("/auth/", r.proxyTo(auth))
	r.mux.Handle("/api/", r.proxyTo(api))
	r.mux.Handle("/", r.proxyTo(console))

	return r, nil
}

func parseUpstream(name, raw string) (upstream, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return upstream{}, fmt.Errorf("parse %s URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return upstream{}, fmt.Errorf("parse %s URL: %q is not absolute", name, raw)
	}
	return upstream{name: name, target: u}, nil
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) proxyTo(up upstream) http.Handler {
	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = up.target.Scheme
			req.URL.Host = up.target.Host
			req.Host = up.target.Host

			req.Header.Del(HeaderPrincipalID)
			req.Header.Del(HeaderPrincipalRoles)

			access := gw.AccessTokenFromContext(req.Context())
			if access == "" {
				access = credential.ReadCookies(req).AccessToken
			}

			if up.name != "auth" {
				// Only the auth backend ever sees the refresh token.
				credential.ReplaceRequestCookies(req, domain.Credential{AccessToken: access})
			}

			if up.bearer {
				req.Header.Del("Authorization")
				if access != "" {
					req.Header.Set("Authorization", "Bearer "+access)
				}
			}

			if up.principal {
				if claims, ok := gw.ClaimsFromContext(req.Context()); ok {
					req.Header.Set(HeaderPrincipalID, claims.Subject)
					req.Header.Set(HeaderPrincipalRoles, strings.Join(claims.RoleNames(), ","))
				}
			}

			if reqID := gw.RequestIDFromContext(req.Context()); reqID != "" {
				req.Header.Set("X-Request-ID", reqID)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			slog.Error("upstream unavailable",
				"upstream", up.name,
				"error", err,
				"request_id", gw.RequestIDFromContext(req.Context()),
			)
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error":   "bad_gateway",
				"message": "upstream unavailable",
			})
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		rp.ServeHTTP(sw, req)
		r.metrics.RecordProxyRequest(req.Context(), up.name, sw.Code, time.Since(start).Seconds())
	})
}

func (r *Router) logout(w http.ResponseWriter, req *http.Request) {
	if rt := credential.ReadCookies(req).RefreshToken; rt != "" && r.cfg.Sessions != nil {
		if err := r.cfg.Sessions.Forget(req.Context(), rt); err != nil {
			slog.Warn("dropping parked refresh result failed", "error", err,
				"request_id", gw.RequestIDFromContext(req.Context()))
		}
	}
	credential.ClearCookies(w, r.cfg.Cookies)
	http.Redirect(w, req, r.cfg.SignInPath, http.StatusSeeOther)
}

func (r *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
