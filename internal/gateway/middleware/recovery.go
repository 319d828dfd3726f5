package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"consolegate/internal/domain"
	gw "consolegate/internal/gateway"
)

// Recovery catches panics from downstream handlers and returns a 500 JSON
// error. http.ErrAbortHandler is re-raised so the server can drop the
// connection the way the reverse proxy intends.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}
			slog.Error("panic recovered",
				"error", err,
				"path", r.URL.Path,
				"request_id", gw.RequestIDFromContext(r.Context()),
				"stack", string(debug.Stack()),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			if encErr := json.NewEncoder(w).Encode(domain.ErrorResponse{
				Error:   "internal_error",
				Message: "an unexpected error occurred",
			}); encErr != nil {
				slog.Error("encoding error response", "error", encErr)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
