package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"consolegate/internal/credential"
)

// ErrSessionEnded is returned by Transport when a request was rejected and
// the credential could not be renewed. The user must sign in again.
var ErrSessionEnded = errors.New("session ended")

// DefaultRefreshPath is the path of the refresh endpoint, which Transport
// never tries to renew for.
const DefaultRefreshPath = "/auth/refresh"

type replayKey struct{}

// Transport is an http.RoundTripper for Go clients of the business API. It
// attaches the stored access token as a bearer credential and, when the
// backend answers 401, renews through the Coordinator and replays the request
// exactly once.
type Transport struct {
	base        http.RoundTripper
	store       *credential.Store
	coordinator *Coordinator
	refreshPath string
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, store *credential.Store, coordinator *Coordinator) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:        base,
		store:       store,
		coordinator: coordinator,
		refreshPath: DefaultRefreshPath,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	cred, _ := t.store.Get()
	sent := cred.AccessToken

	resp, err := t.base.RoundTrip(withBearer(req.Context(), req, sent))
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !t.renewable(req) {
		return resp, err
	}

	// A body that cannot be rewound cannot be replayed.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}

	token, err := t.coordinator.RenewFrom(req.Context(), sent)
	if err != nil {
		drain(resp)
		return nil, fmt.Errorf("%w: %w", ErrSessionEnded, err)
	}

	replay := withBearer(context.WithValue(req.Context(), replayKey{}, true), req, token)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			drain(resp)
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		replay.Body = body
	}
	drain(resp)
	return t.base.RoundTrip(replay)
}

// renewable excludes the refresh call itself and requests already replayed.
func (t *Transport) renewable(req *http.Request) bool {
	if replayed, _ := req.Context().Value(replayKey{}).(bool); replayed {
		return false
	}
	return !strings.HasSuffix(req.URL.Path, t.refreshPath)
}

func withBearer(ctx context.Context, req *http.Request, token string) *http.Request {
	out := req.Clone(ctx)
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return out
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
