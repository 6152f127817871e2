// Package client is a small REST client for the governd daemon API.
//
// It mirrors the daemon's wire types so callers do not import internal
// packages. Identity travels in headers the same way the platform edge
// sets them; the client is a thin transport, not a policy layer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Identity headers understood by the daemon.
const (
	headerUserID      = "X-User-ID"
	headerTenantID    = "X-Tenant-ID"
	headerPermissions = "X-Permissions"
	headerRoles       = "X-Roles"
)

const defaultTimeout = 60 * time.Second

// Client talks to one governd daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client

	userID      string
	tenantID    string
	roles       []string
	permissions []string
	token       string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Streaming calls
// need a client without a global timeout; the default only applies to
// unary requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithIdentity sets the user and tenant sent on every request.
func WithIdentity(userID, tenantID string) Option {
	return func(c *Client) {
		c.userID = userID
		c.tenantID = tenantID
	}
}

// WithRoles sets the roles asserted on every request.
func WithRoles(roles ...string) Option {
	return func(c *Client) { c.roles = roles }
}

// WithPermissions sets the permission strings asserted on every request.
func WithPermissions(permissions ...string) Option {
	return func(c *Client) { c.permissions = permissions }
}

// WithToken sets the bearer token forwarded to tool backends.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New builds a client for the daemon at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx response decoded from the daemon's error
// envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("governd: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("governd: status %d: %s", e.Status, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set(headerUserID, c.userID)
	}
	if c.tenantID != "" {
		req.Header.Set(headerTenantID, c.tenantID)
	}
	if len(c.roles) > 0 {
		req.Header.Set(headerRoles, strings.Join(c.roles, ","))
	}
	if len(c.permissions) > 0 {
		req.Header.Set(headerPermissions, strings.Join(c.permissions, ","))
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do issues a unary request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("governd unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiErrorFrom(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiErrorFrom(status int, raw []byte) *APIError {
	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return &APIError{Status: status, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	message := strings.TrimSpace(string(raw))
	if len(message) > 256 {
		message = message[:256]
	}
	return &APIError{Status: status, Message: message}
}

// Liveness is the daemon's process-level health answer.
type Liveness struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// ServiceStatus describes one backing service in the health report.
type ServiceStatus struct {
	Name           string    `json:"name"`
	Available      bool      `json:"available"`
	Level          string    `json:"level"`
	LastCheck      time.Time `json:"last_check"`
	LastError      string    `json:"last_error,omitempty"`
	FallbackActive bool      `json:"fallback_active"`
}

// HealthReport is the aggregate degradation view.
type HealthReport struct {
	Level    string          `json:"level"`
	Services []ServiceStatus `json:"services"`
}

// Liveness checks that the daemon process is up.
func (c *Client) Liveness(ctx context.Context) (Liveness, error) {
	var out Liveness
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Health returns the aggregate degradation level and per-service detail.
// An offline daemon answers 503 with the same body; the report is
// returned alongside the error so callers can still render it.
func (c *Client) Health(ctx context.Context) (HealthReport, error) {
	var out HealthReport
	raw, status, err := c.fetch(ctx, http.MethodGet, "/v1/health")
	if err != nil {
		return out, err
	}
	switch status {
	case http.StatusOK:
		return out, json.Unmarshal(raw, &out)
	case http.StatusServiceUnavailable:
		if json.Unmarshal(raw, &out) != nil {
			return HealthReport{}, apiErrorFrom(status, raw)
		}
		return out, apiErrorFrom(status, raw)
	default:
		return out, apiErrorFrom(status, raw)
	}
}

// ProbeMemory asks the daemon to re-probe its memory backends. The
// per-service map is returned even when some probes fail; failure is
// reported through the error.
func (c *Client) ProbeMemory(ctx context.Context) (map[string]string, error) {
	raw, status, err := c.fetch(ctx, http.MethodPost, "/v1/memory/probe")
	if err != nil {
		return nil, err
	}

	var out struct {
		Services map[string]string `json:"services"`
	}
	switch status {
	case http.StatusOK:
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return out.Services, nil
	case http.StatusServiceUnavailable:
		if json.Unmarshal(raw, &out) != nil {
			return nil, apiErrorFrom(status, raw)
		}
		return out.Services, apiErrorFrom(status, raw)
	default:
		return nil, apiErrorFrom(status, raw)
	}
}

// fetch issues a bodyless request and returns the raw response.
func (c *Client) fetch(ctx context.Context, method, path string) ([]byte, int, error) {
	req, err := c.newRequest(ctx, method, path, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("governd unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}
