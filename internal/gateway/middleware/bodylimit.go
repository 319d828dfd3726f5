package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"consolegate/internal/domain"
)

// MaxBodySize caps request bodies at maxBytes. A declared Content-Length over
// the cap is answered with 413 before the upstream is contacted; bodies sent
// without one fail on read once they cross it.
func MaxBodySize(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				if err := json.NewEncoder(w).Encode(domain.ErrorResponse{
					Error:   "payload_too_large",
					Message: "request body exceeds the edge limit",
				}); err != nil {
					slog.Error("encoding error response", "error", err)
				}
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
