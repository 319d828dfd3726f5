package middleware

import (
	"log/slog"
	"net/http"
	"time"

	gw "consolegate/internal/gateway"
)

// Logging returns a middleware that logs each request using slog. The
// principal is whatever the guard admitted further down the chain, so it is
// read from the request the inner handlers saw.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			seen := &seenRequest{r: r}

			next.ServeHTTP(sw, r.WithContext(withSeen(r.Context(), seen)))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.Code,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"request_id", gw.RequestIDFromContext(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			if claims, ok := gw.ClaimsFromContext(seen.r.Context()); ok {
				attrs = append(attrs, "principal_id", claims.Subject)
			}
			if loc := sw.Header().Get("Location"); loc != "" && sw.Code >= 300 && sw.Code < 400 {
				attrs = append(attrs, "redirect", loc)
			}
			logger.Info("request", attrs...)
		})
	}
}
