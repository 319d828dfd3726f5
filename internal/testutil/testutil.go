package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"consolegate/internal/domain"
)

// signingKey signs test tokens. The edge never verifies signatures, so any key works.
var signingKey = []byte("consolegate-test-signing-key")

// TokenSpec describes the claims of a test access token.
type TokenSpec struct {
	Subject     string
	Roles       []string
	Permissions []domain.Permission
	Departments []string
	LinkStatus  int
	TTL         time.Duration // negative produces an already-expired token
	Padding     int           // number of filler permissions used to inflate the token
}

// Claims builds the JWT claims for spec, encoding roles as {name} objects and
// departments as {slug} objects the way the issuing backend does.
func Claims(spec TokenSpec) jwt.MapClaims {
	now := time.Now()
	ttl := spec.TTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	roles := make([]map[string]any, len(spec.Roles))
	for i, r := range spec.Roles {
		roles[i] = map[string]any{"name": r}
	}
	perms := make([]map[string]any, 0, len(spec.Permissions)+spec.Padding)
	for _, p := range spec.Permissions {
		perms = append(perms, map[string]any{"name": p.Name, "action": string(p.Action)})
	}
	for i := range spec.Padding {
		perms = append(perms, map[string]any{"name": fmt.Sprintf("filler-resource-%04d", i), "action": "read"})
	}
	depts := make([]map[string]any, len(spec.Departments))
	for i, d := range spec.Departments {
		depts[i] = map[string]any{"slug": d}
	}

	return jwt.MapClaims{
		"sub":            spec.Subject,
		"roles":          roles,
		"permissions":    perms,
		"departments":    depts,
		"zaloLinkStatus": spec.LinkStatus,
		"iat":            now.Unix(),
		"exp":            now.Add(ttl).Unix(),
		"iss":            "consolegate-test",
	}
}

// IssueToken creates a signed HS256 access token for spec.
func IssueToken(t testing.TB, spec TokenSpec) string {
	t.Helper()
	return SignClaims(t, Claims(spec))
}

// SignClaims creates a signed HS256 token with arbitrary claims.
func SignClaims(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(signingKey)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// OversizedToken issues a token for spec padded until it is longer than size characters.
func OversizedToken(t testing.TB, spec TokenSpec, size int) string {
	t.Helper()
	for {
		tok := IssueToken(t, spec)
		if len(tok) > size {
			return tok
		}
		spec.Padding += 16
	}
}

// RefreshResponder returns the status code and JSON body for a refresh call.
type RefreshResponder func(refreshToken string) (int, any)

// MockRefreshHandler serves POST /auth/refresh. Every call increments calls
// and sleeps for delay before responding, which widens the window in which
// concurrent callers overlap.
func MockRefreshHandler(calls *atomic.Int64, delay time.Duration, respond RefreshResponder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		status, body := respond(req.RefreshToken)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	})
}

// MockBackendHandler returns an http.Handler that echoes request details.
// Used to check that the edge forwards requests with principal headers.
func MockBackendHandler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"backend":         name,
			"method":          r.Method,
			"path":            r.URL.Path,
			"principal_id":    r.Header.Get("X-Principal-ID"),
			"principal_roles": r.Header.Get("X-Principal-Roles"),
			"authorization":   r.Header.Get("Authorization"),
			"request_id":      r.Header.Get("X-Request-ID"),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}

// ExpiringBackendHandler rejects bearer tokens whose exp has passed with 401
// and otherwise echoes like MockBackendHandler. Signatures are not checked.
func ExpiringBackendHandler(name string, calls *atomic.Int64) http.Handler {
	echo := MockBackendHandler(name)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mc := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(raw, mc); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		exp, err := mc.GetExpirationTime()
		if err != nil || exp == nil || !exp.After(time.Now()) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		echo.ServeHTTP(w, r)
	})
}
