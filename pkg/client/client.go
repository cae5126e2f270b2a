// Package client talks to the control API of a running fixturectl.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Client provides HTTP access to a fixture's control API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8088/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new control API client.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the fixture is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	var out []MemberStatus
	err := c.get(ctx, "/status", &out)
	c.logger.Debug("fixture reachability check", "reachable", err == nil, "error", err)
	return err == nil
}

// Status returns every member, optionally filtered by a glob pattern.
func (c *Client) Status(ctx context.Context, pattern string) ([]MemberStatus, error) {
	path := "/status"
	if pattern != "" {
		path += "?pattern=" + url.QueryEscape(pattern)
	}
	var out []MemberStatus
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StatusOf returns one member.
func (c *Client) StatusOf(ctx context.Context, name string) (MemberStatus, error) {
	var out MemberStatus
	err := c.get(ctx, "/status/"+url.PathEscape(name), &out)
	return out, err
}

// Manifest returns the endpoints of all members.
func (c *Client) Manifest(ctx context.Context) (Manifest, error) {
	var out Manifest
	err := c.get(ctx, "/manifest", &out)
	return out, err
}

// Resources samples CPU and memory of a running member.
func (c *Client) Resources(ctx context.Context, name string) (Resources, error) {
	var out Resources
	err := c.get(ctx, "/members/"+url.PathEscape(name)+"/resources", &out)
	return out, err
}

// Terminate stops a member, with SIGKILL when force is set.
func (c *Client) Terminate(ctx context.Context, name string, force bool) error {
	c.logger.Debug("terminating member", "name", name, "force", force)
	path := fmt.Sprintf("/members/%s/terminate?force=%t", url.PathEscape(name), force)
	return c.do(ctx, http.MethodPost, path, nil)
}

// WaitForState blocks until a member reports state or timeout elapses on the
// server side. A zero timeout uses the member's configured default.
func (c *Client) WaitForState(ctx context.Context, name, state string, timeout time.Duration) error {
	q := url.Values{}
	q.Set("state", state)
	if timeout > 0 {
		q.Set("timeout", timeout.String())
	}
	path := "/members/" + url.PathEscape(name) + "/wait?" + q.Encode()
	return c.do(ctx, http.MethodPost, path, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, out)
}

// do performs a request and decodes a 200 body into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// APIError is returned for non-200 responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("failed to decode error response", "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Message: errorResp.Error}
}
