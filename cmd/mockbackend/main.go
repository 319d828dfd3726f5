// Command mockbackend stands in for the console and the business API during
// local runs. It echoes what the edge forwarded and rejects stale bearers.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"consolegate/internal/credential"
	"consolegate/internal/platform/server"
	"consolegate/internal/testutil"
)

func main() {
	addr := envOr("ADDR", ":8082")
	name := envOr("BACKEND_NAME", "mock-backend")
	base := latencyEnv("LATENCY_BASE")
	jitter := latencyEnv("LATENCY_JITTER")
	requireBearer := os.Getenv("REQUIRE_BEARER") != "false"
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	mux := http.NewServeMux()
	mux.Handle("/", withLatency(base, jitter, bearerGate(requireBearer, testutil.MockBackendHandler(name))))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": name})
	})

	slog.Info("mock backend starting", "addr", addr, "name", name,
		"latency_base", base, "latency_jitter", jitter, "require_bearer", requireBearer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := server.New(addr, mux).Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// bearerGate answers 401 for a bearer that fails to decode or has expired,
// which is what makes refresh.Transport renew. API paths without any bearer
// are rejected too unless required is false.
func bearerGate(required bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		switch {
		case ok:
			claims, err := credential.DecodeClaims(raw)
			if err != nil || claims.Expired(time.Now()) {
				slog.Debug("bearer rejected", "path", r.URL.Path, "error", err)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		case required && strings.HasPrefix(r.URL.Path, "/api/"):
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLatency delays each response by base plus up to jitter.
func withLatency(base, jitter time.Duration, next http.Handler) http.Handler {
	if base == 0 && jitter == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delay := base
		if jitter > 0 {
			delay += time.Duration(rand.Int64N(int64(jitter)))
		}
		time.Sleep(delay)
		next.ServeHTTP(w, r)
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// latencyEnv reads milliseconds ("50" is 50ms).
func latencyEnv(key string) time.Duration {
	ms, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
