package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"consolegate/internal/credential"
	"consolegate/internal/domain"
	"consolegate/internal/platform/server"
)

// account is a seeded console user.
type account struct {
	password    string
	roles       []string
	departments []string
	permissions []domain.Permission
	linkStatus  int
}

var accounts = map[string]account{
	"admin": {password: "admin", roles: []string{"admin"}},
	"sales": {
		password:    "password",
		roles:       []string{"user-sales"},
		departments: []string{"sales"},
		permissions: []domain.Permission{
			{Name: "dashboard", Action: domain.ActionRead},
			{Name: "khach-hang", Action: domain.ActionRead},
			{Name: "khach-hang", Action: domain.ActionCreate},
			{Name: "quan-ly-don-hang", Action: domain.ActionRead},
		},
	},
	"manager": {password: "password", roles: []string{"manager-sales"}, departments: []string{"sales"}},
	"pm":      {password: "password", roles: []string{"pm-ops"}, departments: []string{"ops"}},
	"viewer":  {password: "password", roles: []string{"view"}},
	"unlinked": {
		password:   "password",
		roles:      []string{"user-ops"},
		linkStatus: domain.LinkStatusBroken,
	},
}

// issuer mints access tokens and tracks single-use refresh tokens.
type issuer struct {
	key       []byte
	accessTTL time.Duration

	mu      sync.Mutex
	refresh map[string]string // refresh token -> username
}

func main() {
	addr := envOr("AUTH_ADDR", ":8081")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ttl, err := time.ParseDuration(envOr("ACCESS_TTL", "15m"))
	if err != nil {
		slog.Error("invalid ACCESS_TTL", "error", err)
		os.Exit(1)
	}
	iss := &issuer{
		key:       []byte(envOr("SIGNING_KEY", "mockauth-signing-key")),
		accessTTL: ttl,
		refresh:   map[string]string{},
	}

	slog.Info("mock auth service starting", "addr", addr, "access_ttl", ttl)
	slog.Info("seeded accounts", "users", "admin:admin, sales|manager|pm|viewer|unlinked:password")

	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
		acct, ok := accounts[req.Username]
		if !ok || acct.password != req.Password {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
			return
		}
		iss.respond(w, req.Username, acct)
	})

	// Refresh tokens rotate: each one is accepted exactly once.
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "refreshToken is required")
			return
		}
		iss.mu.Lock()
		username, ok := iss.refresh[req.RefreshToken]
		delete(iss.refresh, req.RefreshToken)
		iss.mu.Unlock()
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "refresh token not recognised")
			return
		}
		iss.respond(w, username, accounts[username])
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "mock-auth"})
	})

	srv := server.New(addr, mux)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

// respond issues a new pair, sets the credential cookies the way the real
// backend does, and returns the pair as JSON.
func (iss *issuer) respond(w http.ResponseWriter, username string, acct account) {
	access, err := iss.sign(username, acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to sign token")
		return
	}
	rt := newRefreshToken()
	iss.mu.Lock()
	iss.refresh[rt] = username
	iss.mu.Unlock()

	compacted, _ := credential.Compact(access, credential.DefaultBudget)
	credential.WriteCookies(w, domain.Credential{AccessToken: compacted, RefreshToken: rt}, credential.CookieOptions{})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(domain.TokenPair{AccessToken: access, RefreshToken: rt})
}

func (iss *issuer) sign(username string, acct account) (string, error) {
	now := time.Now()
	roles := make([]map[string]any, len(acct.roles))
	for i, r := range acct.roles {
		roles[i] = map[string]any{"name": r}
	}
	perms := make([]map[string]any, len(acct.permissions))
	for i, p := range acct.permissions {
		perms[i] = map[string]any{"name": p.Name, "action": string(p.Action)}
	}
	depts := make([]map[string]any, len(acct.departments))
	for i, d := range acct.departments {
		depts[i] = map[string]any{"slug": d}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":            username,
		"roles":          roles,
		"permissions":    perms,
		"departments":    depts,
		"zaloLinkStatus": acct.linkStatus,
		"iat":            now.Unix(),
		"exp":            now.Add(iss.accessTTL).Unix(),
		"iss":            "mock-auth",
	})
	return token.SignedString(iss.key)
}

func newRefreshToken() string {
	b := make([]byte, 24)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.ErrorResponse{Error: code, Message: msg})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
