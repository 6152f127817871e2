package orchestrator

import (
	"time"

	"github.com/stewardlabs/governd/internal/tools"
)

// EventType classifies a streamed turn event.
type EventType string

const (
	// EventText carries assistant prose, possibly partial.
	EventText EventType = "text"

	// EventContextSummary replays the rolling session digest so the UI
	// can show what the assistant remembers.
	EventContextSummary EventType = "context_summary"

	// EventToolCall reports one tool invocation and its outcome,
	// including calls parked behind the human gate.
	EventToolCall EventType = "tool_call"

	// EventQuickAction suggests a one-tap follow-up prompt.
	EventQuickAction EventType = "quick_action"

	// EventError reports a turn failure in user-presentable terms.
	EventError EventType = "error"
)

// Event is one element of a turn's ordered stream. Exactly one event per
// turn carries Complete=true and it is always the last.
type Event struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`

	// Complete marks the final event of the turn.
	Complete bool `json:"complete"`

	Content     string            `json:"content,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	ToolCall    *tools.ToolCall   `json:"tool_call,omitempty"`
	ToolResult  *tools.ToolResult `json:"tool_result,omitempty"`
	QuickAction *QuickAction      `json:"quick_action,omitempty"`
	Error       *ErrorEvent       `json:"error,omitempty"`
}

// QuickAction is a suggested follow-up the user can send verbatim.
type QuickAction struct {
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

// ErrorEvent is the user-facing rendering of a turn failure. Category is
// the fault code; Message never leaks internals. CorrelationID ties the
// event to server logs.
type ErrorEvent struct {
	Category      string `json:"category"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

// PageContext tells the assistant what the user is looking at, seeding
// entity tracking so "this report" resolves without a prior mention.
type PageContext struct {
	Page       string `json:"page,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
}

// Request is one user turn.
type Request struct {
	SessionID string                 `json:"session_id"`
	Message   string                 `json:"message"`
	Page      PageContext            `json:"page,omitempty"`
	Identity  tools.ExecutionContext `json:"-"`
}
