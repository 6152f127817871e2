// Package gate holds critical actions pending human decision.
//
// Every critical tool invocation becomes an Action that waits here until
// a human approves, rejects, or defers it, or until its TTL lapses. All
// four outcomes are terminal; an action never re-enters the pending set.
package gate

import (
	"context"
	"time"

	"github.com/stewardlabs/governd/internal/access"
	"github.com/stewardlabs/governd/internal/tools"
)

// State is the lifecycle position of an action.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
	StateDeferred State = "deferred"
	StateExpired  State = "expired"
)

// Terminal reports whether the state admits no further transition.
func (s State) Terminal() bool {
	return s != StatePending
}

// Decision is a human verdict on a pending action.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionDeferred Decision = "deferred"
)

// stateFor maps a decision to the terminal state it produces.
func stateFor(d Decision) (State, bool) {
	switch d {
	case DecisionApproved:
		return StateApproved, true
	case DecisionRejected:
		return StateRejected, true
	case DecisionDeferred:
		return StateDeferred, true
	default:
		return "", false
	}
}

// Action is one critical operation awaiting human decision.
type Action struct {
	ID           string           `json:"id"`
	Type         tools.ActionType `json:"type"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Impact       string           `json:"impact"`
	RequiredRole string           `json:"required_role"`

	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Proposed   map[string]any `json:"proposed,omitempty"`
	Rationale  string         `json:"rationale,omitempty"`

	// ToolName and ToolParams carry the deferred invocation executed on
	// approval. Empty ToolName means the action has no attached tool.
	ToolName   string         `json:"tool_name,omitempty"`
	ToolParams map[string]any `json:"tool_params,omitempty"`

	RequestedBy string `json:"requested_by"`
	TenantID    string `json:"tenant_id"`
	SessionID   string `json:"session_id,omitempty"`

	// RequesterPermissions are replayed into the execution context when
	// an approved action's tool runs. Access tokens are never stored.
	RequesterPermissions access.UserPermissions `json:"requester_permissions"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Status    State     `json:"status"`
}

// Expired reports whether the action's TTL has lapsed at the given time.
func (a Action) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

// Result records the decision taken on an action.
type Result struct {
	ActionID  string    `json:"action_id"`
	Decision  Decision  `json:"decision"`
	Rationale string    `json:"rationale,omitempty"`
	DecidedBy string    `json:"decided_by"`
	DecidedAt time.Time `json:"decided_at"`
	Signature string    `json:"signature,omitempty"`

	// ToolResult is the outcome of the attached tool, present only when
	// an approval triggered execution.
	ToolResult *tools.ToolResult `json:"tool_result,omitempty"`
}

// Notifier receives approval lifecycle events. Implementations must not
// block; delivery is best effort and failures never affect the decision.
type Notifier interface {
	ActionCreated(ctx context.Context, action Action)
	ActionDecided(ctx context.Context, action Action, result Result)
	ActionExpired(ctx context.Context, action Action)
}

// NopNotifier discards all events. It is the default when no transport
// is configured.
type NopNotifier struct{}

func (NopNotifier) ActionCreated(context.Context, Action)         {}
func (NopNotifier) ActionDecided(context.Context, Action, Result) {}
func (NopNotifier) ActionExpired(context.Context, Action)         {}
