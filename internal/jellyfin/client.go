// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

/*
Package jellyfin is the REST client jellysync uses to populate its caches.

The client reads the server URL and token from the session on every call, so
a server switch or re-login takes effect without rebuilding it. Requests are
paced by an optional token bucket and fail without retry; callers wrap the
client in a CircuitBreakerClient to fail fast while the server is down.

API Reference: https://api.jellyfin.org/
*/
package jellyfin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/jellysync/internal/metrics"
)

var (
	// ErrNoServer is returned when the session has no server URL.
	ErrNoServer = errors.New("jellyfin: no server configured")

	// ErrNotAuthenticated is returned by user-scoped calls without a user.
	ErrNotAuthenticated = errors.New("jellyfin: no authenticated user")
)

// API defines the Jellyfin operations jellysync uses.
// Both Client and CircuitBreakerClient implement this interface.
type API interface {
	Ping(ctx context.Context) error
	GetSystemInfo(ctx context.Context) (*SystemInfo, error)
	GetCurrentUser(ctx context.Context) (*User, error)
	GetItems(ctx context.Context, userID string, q ItemsQuery) (*ItemsResult, error)
	GetUserViews(ctx context.Context, userID string) (*ItemsResult, error)
}

// Ensure Client implements API
var _ API = (*Client)(nil)

// Credentials supplies the server and token for each request.
type Credentials interface {
	ServerURL() string
	Token() string
	DeviceID() string
}

// Config identifies the client to the server and bounds its requests.
type Config struct {
	DeviceName    string
	ClientName    string
	ClientVersion string
	Timeout       time.Duration

	// RateLimit is requests per second; zero disables pacing.
	RateLimit float64
	RateBurst int
}

// Client provides access to the Jellyfin REST API.
type Client struct {
	creds      Credentials
	cfg        Config
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewClient creates a Jellyfin API client.
func NewClient(cfg Config, creds Credentials) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		creds: creds,
		cfg:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// Ping tests connectivity to the Jellyfin server
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, "/System/Ping", "/System/Ping", nil)
	if err != nil {
		return fmt.Errorf("jellyfin ping failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jellyfin ping returned status %d", resp.StatusCode)
	}
	return nil
}

// GetSystemInfo retrieves Jellyfin server system information
func (c *Client) GetSystemInfo(ctx context.Context) (*SystemInfo, error) {
	var info SystemInfo
	if err := c.getJSON(ctx, "system info", "/System/Info", "/System/Info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetCurrentUser resolves the user the token belongs to.
func (c *Client) GetCurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.getJSON(ctx, "current user", "/Users/Me", "/Users/Me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetItems lists items visible to userID, filtered by q.
func (c *Client) GetItems(ctx context.Context, userID string, q ItemsQuery) (*ItemsResult, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	query := url.Values{}
	if len(q.IDs) > 0 {
		query.Set("ids", strings.Join(q.IDs, ","))
	}
	if q.ParentID != "" {
		query.Set("parentId", q.ParentID)
	}
	if len(q.Fields) > 0 {
		query.Set("fields", strings.Join(q.Fields, ","))
	}

	var result ItemsResult
	path := "/Users/" + url.PathEscape(userID) + "/Items"
	if err := c.getJSON(ctx, "items", "/Users/{userId}/Items", path, query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetUserViews lists the top-level libraries of userID.
func (c *Client) GetUserViews(ctx context.Context, userID string) (*ItemsResult, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	var result ItemsResult
	path := "/Users/" + url.PathEscape(userID) + "/Views"
	if err := c.getJSON(ctx, "user views", "/Users/{userId}/Views", path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// getJSON performs a GET and decodes a 200 response into out. what names the
// resource in error messages; endpoint is the metrics label.
func (c *Client) getJSON(ctx context.Context, what, endpoint, path string, query url.Values, out any) error {
	resp, err := c.doRequest(ctx, endpoint, path, query)
	if err != nil {
		return fmt.Errorf("jellyfin %s request failed: %w", what, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("jellyfin %s returned status %d (failed to read body)", what, resp.StatusCode)
		}
		return fmt.Errorf("jellyfin %s returned status %d: %s", what, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode jellyfin %s: %w", what, err)
	}
	return nil
}

// doRequest performs an HTTP GET request to the Jellyfin API
func (c *Client) doRequest(ctx context.Context, endpoint, path string, query url.Values) (*http.Response, error) {
	base := strings.TrimSuffix(c.creds.ServerURL(), "/")
	if base == "" {
		return nil, ErrNoServer
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	fullURL := base + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Emby-Token", c.creds.Token())
	req.Header.Set("X-Emby-Client", c.cfg.ClientName)
	req.Header.Set("X-Emby-Device-Name", c.cfg.DeviceName)
	req.Header.Set("X-Emby-Device-Id", c.creds.DeviceID())
	req.Header.Set("X-Emby-Client-Version", c.cfg.ClientVersion)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAPIRequest(endpoint, "error", time.Since(start))
		return nil, err
	}
	metrics.RecordAPIRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
	return resp, nil
}
