// Package supabase is a small client for the two Supabase services the marketplace talks to:
// GoTrue (auth) and PostgREST (tables and RPC).
package supabase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	URL     string
	AnonKey string
	// JWTSecret enables local verification of access tokens.
	JWTSecret string
	// Timeout bounds every remote call. Zero means the inbound request context is the only limit.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is the single handle to the external project. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	restURL string
	authURL string
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.AnonKey == "" {
		return nil, fmt.Errorf("supabase.New: %w", ErrMissingConfig)
	}

	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("supabase.New: invalid project url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("supabase.New: invalid project url %q", cfg.URL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		restURL: base.String() + "/rest/v1",
		authURL: base.String() + "/auth/v1",
	}, nil
}

func (c *Client) JWTSecret() string {
	return c.cfg.JWTSecret
}

var ErrMissingConfig = errors.New("supabase url and anon key are required")

// ErrUnavailable wraps transport failures: the store could not be reached or answered mid-way.
var ErrUnavailable = errors.New("supabase unavailable")

type accessTokenKey struct{}

// WithAccessToken returns a context whose queries run under the given user's row-level security.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

func AccessToken(ctx context.Context) string {
	token, _ := ctx.Value(accessTokenKey{}).(string)
	return token
}

// do performs one call. An empty token falls back to the anon key, which is what PostgREST
// and GoTrue expect from unauthenticated callers.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, headers map[string]string, token string) ([]byte, int, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	if token == "" {
		token = c.cfg.AnonKey
	}
	req.Header.Set("apikey", c.cfg.AnonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w: %w", ErrUnavailable, err)
	}

	return respBody, resp.StatusCode, nil
}
