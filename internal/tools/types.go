// Package tools defines the governed tool surface: call and result types,
// the registry of known tools with their critical-action metadata, and the
// contract for the external tool collaborator.
package tools

import (
	"context"
	"time"

	"github.com/stewardlabs/governd/internal/access"
)

// Status tracks a tool call through its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ExecutionContext identifies who is invoking a tool and with what rights.
type ExecutionContext struct {
	UserID      string                 `json:"user_id"`
	TenantID    string                 `json:"tenant_id"`
	SessionID   string                 `json:"session_id"`
	AccessToken string                 `json:"access_token,omitempty"`
	Permissions access.UserPermissions `json:"permissions"`

	// RequireHumanApproval parks critical tools behind the human gate.
	RequireHumanApproval bool `json:"require_human_approval"`
}

// ToolCall is one requested invocation. Parameters stay opaque to the
// core beyond classification and id extraction.
type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Status     Status         `json:"status"`
}

// ToolResult is the outcome of one invocation.
type ToolResult struct {
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Success   bool   `json:"success"`
	Output    any    `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	// Retryable is the collaborator's own verdict on a failure. The
	// gateway passes it through unchanged.
	Retryable bool `json:"retryable"`

	// ActionID links a pending result to the human-gate action that
	// parked it.
	ActionID string `json:"action_id,omitempty"`

	DurationMS  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// Invoker is the external tool collaborator. A failed tool call comes
// back as a ToolResult with Success false and the collaborator's own
// retryable flag; the error return is reserved for not reaching the
// collaborator at all.
type Invoker interface {
	Invoke(ctx context.Context, call ToolCall, ec ExecutionContext) (ToolResult, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, call ToolCall, ec ExecutionContext) (ToolResult, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, call ToolCall, ec ExecutionContext) (ToolResult, error) {
	return f(ctx, call, ec)
}
