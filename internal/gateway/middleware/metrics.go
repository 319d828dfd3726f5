package middleware

import (
	"net/http"
	"strings"
	"time"

	gw "consolegate/internal/gateway"
	"consolegate/internal/platform/telemetry"
)

// Metrics returns middleware that records HTTP request metrics.
// Place as the outermost middleware to capture the full request lifecycle.
func Metrics(m *telemetry.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}

			next.ServeHTTP(sw, r)

			m.RecordHTTPRequest(r.Context(), r.Method, PathLabel(r.URL.Path), sw.Code, time.Since(start).Seconds())
		})
	}
}

// PathLabel collapses a request path to its first segment, with /api/ and
// /auth/ keeping two, so record IDs in console URLs do not become labels.
func PathLabel(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if segments[0] == "" {
		return "/"
	}
	n := 1
	if (segments[0] == "api" || segments[0] == "auth") && len(segments) > 1 {
		n = 2
	}
	return "/" + strings.Join(segments[:n], "/")
}
