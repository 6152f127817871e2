package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stewardlabs/governd/internal/fault"
)

// defaultRemoteTimeout bounds one collaborator round trip.
const defaultRemoteTimeout = 30 * time.Second

// RemoteConfig configures the HTTP tool collaborator.
type RemoteConfig struct {
	// Endpoint is the URL invocations are POSTed to.
	Endpoint string

	// Timeout bounds one round trip. Default: 30s.
	Timeout time.Duration
}

// remoteRequest is the wire form of one invocation. The access token
// travels in the Authorization header, never in the body.
type remoteRequest struct {
	Name       string         `json:"name"`
	CallID     string         `json:"call_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Context    remoteIdentity `json:"context"`
}

type remoteIdentity struct {
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id,omitempty"`
}

// RemoteInvoker calls the platform's tool execution service over HTTP.
// A reachable collaborator always answers with a ToolResult, failed
// tools included; the error return covers not reaching it at all.
type RemoteInvoker struct {
	endpoint string
	client   *http.Client
}

// NewRemoteInvoker creates the HTTP invoker.
func NewRemoteInvoker(cfg RemoteConfig) (*RemoteInvoker, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tool endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &RemoteInvoker{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Invoke implements Invoker.
func (r *RemoteInvoker) Invoke(ctx context.Context, call ToolCall, ec ExecutionContext) (ToolResult, error) {
	payload, err := json.Marshal(remoteRequest{
		Name:       call.Name,
		CallID:     call.ID,
		Parameters: call.Parameters,
		Context: remoteIdentity{
			UserID:    ec.UserID,
			TenantID:  ec.TenantID,
			SessionID: ec.SessionID,
		},
	})
	if err != nil {
		return ToolResult{}, fault.Wrap(fault.CodeToolExecution, err, "failed to encode tool request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return ToolResult{}, fault.Wrap(fault.CodeToolExecution, err, "failed to build tool request")
	}
	req.Header.Set("Content-Type", "application/json")
	if ec.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+ec.AccessToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return ToolResult{}, fault.Wrap(fault.CodeToolExecution, err,
			fmt.Sprintf("tool collaborator unreachable at %s", r.endpoint),
			fault.WithRetryable(true))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ToolResult{}, fault.Wrap(fault.CodeToolExecution, err, "failed to read tool response",
			fault.WithRetryable(true))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return ToolResult{}, fault.New(fault.CodeToolExecution,
			fmt.Sprintf("tool collaborator returned %d", resp.StatusCode),
			fault.WithRetryable(true))
	default:
		return ToolResult{}, fault.New(fault.CodeToolExecution,
			fmt.Sprintf("tool collaborator rejected the call (%d): %s", resp.StatusCode, truncateBody(body)))
	}

	var result ToolResult
	if err := json.Unmarshal(body, &result); err != nil {
		return ToolResult{}, fault.Wrap(fault.CodeToolExecution, err, "failed to decode tool response")
	}
	if result.CallID == "" {
		result.CallID = call.ID
	}
	if result.Name == "" {
		result.Name = call.Name
	}
	return result, nil
}

func truncateBody(body []byte) string {
	const max = 256
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}

// UnconfiguredInvoker stands in when no tool endpoint is configured.
// Every call fails as a non-retryable tool execution error, so the
// assistant can say what is missing instead of hanging.
func UnconfiguredInvoker() Invoker {
	return InvokerFunc(func(_ context.Context, call ToolCall, _ ExecutionContext) (ToolResult, error) {
		return ToolResult{}, fault.New(fault.CodeToolExecution,
			fmt.Sprintf("tool %s cannot run: no tool backend is configured", call.Name))
	})
}
