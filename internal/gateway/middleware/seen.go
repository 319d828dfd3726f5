package middleware

import (
	"context"
	"net/http"
)

// seenRequest lets an outer middleware observe the request as an inner one
// rewrote it. The guard stores admitted claims on a derived request, which
// is otherwise invisible to wrappers outside it.
type seenRequest struct {
	r *http.Request
}

type seenKey struct{}

func withSeen(ctx context.Context, s *seenRequest) context.Context {
	return context.WithValue(ctx, seenKey{}, s)
}

// markSeen records r as the request handed to the innermost handler so far.
func markSeen(r *http.Request) {
	if s, ok := r.Context().Value(seenKey{}).(*seenRequest); ok {
		s.r = r
	}
}
