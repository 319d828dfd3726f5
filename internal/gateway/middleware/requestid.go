package middleware

import (
	"net/http"

	"github.com/google/uuid"

	gw "consolegate/internal/gateway"
)

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLen bounds inbound IDs; longer ones are replaced.
const maxRequestIDLen = 128

// RequestID assigns a unique request ID to each request. An inbound
// X-Request-ID is kept when it is short enough to log safely.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(gw.ContextWithRequestID(r.Context(), id)))
	})
}
