package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Decision values accepted by the daemon.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
	DecisionDeferred = "deferred"
)

// Action is one critical operation awaiting human decision, as the
// daemon serves it. The requester's permission snapshot never crosses
// the wire.
type Action struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Impact       string         `json:"impact,omitempty"`
	RequiredRole string         `json:"required_role,omitempty"`
	EntityType   string         `json:"entity_type,omitempty"`
	EntityID     string         `json:"entity_id,omitempty"`
	Proposed     map[string]any `json:"proposed,omitempty"`
	Rationale    string         `json:"rationale,omitempty"`
	ToolName     string         `json:"tool_name,omitempty"`
	RequestedBy  string         `json:"requested_by"`
	TenantID     string         `json:"tenant_id"`
	SessionID    string         `json:"session_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Status       string         `json:"status"`
}

// Result records the decision taken on an action.
type Result struct {
	ActionID   string      `json:"action_id"`
	Decision   string      `json:"decision"`
	Rationale  string      `json:"rationale,omitempty"`
	DecidedBy  string      `json:"decided_by"`
	DecidedAt  time.Time   `json:"decided_at"`
	Signature  string      `json:"signature,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// DecisionRequest is a verdict on a pending action. DecidedBy and the
// decider's roles come from the client's identity headers.
type DecisionRequest struct {
	Decision  string `json:"decision"`
	Rationale string `json:"rationale,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ExpireReport summarises one expiry sweep.
type ExpireReport struct {
	Expired int      `json:"expired"`
	IDs     []string `json:"ids"`
}

// ListApprovals returns the pending actions for the client's tenant.
func (c *Client) ListApprovals(ctx context.Context) ([]Action, error) {
	var out struct {
		Actions []Action `json:"actions"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/approvals", nil, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

// GetApproval returns one action and, once decided, its result.
func (c *Client) GetApproval(ctx context.Context, actionID string) (Action, *Result, error) {
	if actionID == "" {
		return Action{}, nil, fmt.Errorf("action id is required")
	}
	var out struct {
		Action Action  `json:"action"`
		Result *Result `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/approvals/"+url.PathEscape(actionID), nil, &out); err != nil {
		return Action{}, nil, err
	}
	return out.Action, out.Result, nil
}

// Decide submits a verdict on a pending action.
func (c *Client) Decide(ctx context.Context, actionID string, req DecisionRequest) (Result, error) {
	if actionID == "" {
		return Result{}, fmt.Errorf("action id is required")
	}
	var out struct {
		Result Result `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/approvals/"+url.PathEscape(actionID)+"/decision", req, &out); err != nil {
		return Result{}, err
	}
	return out.Result, nil
}

// ExpireApprovals sweeps pending actions whose TTL has lapsed.
func (c *Client) ExpireApprovals(ctx context.Context) (ExpireReport, error) {
	var out ExpireReport
	err := c.do(ctx, http.MethodPost, "/v1/approvals/expire", nil, &out)
	return out, err
}
