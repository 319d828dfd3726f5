package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"consolegate/internal/domain"
)

// Endpoint paths on the issuing backend.
const (
	RefreshPath = "/auth/refresh"
	LoginPath   = "/auth/login"
)

// maxResponseBytes bounds what is read from the auth backend.
const maxResponseBytes = 1 << 20

// Client talks to the issuing backend's auth endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the auth backend at baseURL. timeout bounds
// every call, including refreshes the edge has detached from the caller.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Refresh exchanges refreshToken for a new pair via POST /auth/refresh.
// Any non-2xx status or a response without access_token is a failure.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	return c.post(ctx, RefreshPath, map[string]string{"refreshToken": refreshToken})
}

// Login exchanges user credentials for a token pair via POST /auth/login.
func (c *Client) Login(ctx context.Context, username, password string) (domain.TokenPair, error) {
	return c.post(ctx, LoginPath, map[string]string{"username": username, "password": password})
}

func (c *Client) post(ctx context.Context, path string, body any) (domain.TokenPair, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("creating %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		if resp.StatusCode == http.StatusUnauthorized {
			return domain.TokenPair{}, fmt.Errorf("%s returned %d: %w", path, resp.StatusCode, domain.ErrUnauthorized)
		}
		return domain.TokenPair{}, fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}

	var pair domain.TokenPair
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&pair); err != nil {
		return domain.TokenPair{}, fmt.Errorf("decoding %s response: %w", path, err)
	}
	if pair.AccessToken == "" {
		return domain.TokenPair{}, fmt.Errorf("%s response has no access_token", path)
	}
	return pair, nil
}
