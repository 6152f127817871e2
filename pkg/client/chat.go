package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Event types streamed by a chat turn.
const (
	EventText           = "text"
	EventContextSummary = "context_summary"
	EventToolCall       = "tool_call"
	EventQuickAction    = "quick_action"
	EventError          = "error"
)

// ChatRequest is one user turn.
type ChatRequest struct {
	SessionID string      `json:"session_id,omitempty"`
	Message   string      `json:"message"`
	Page      PageContext `json:"page,omitempty"`
}

// PageContext tells the assistant what the user is looking at.
type PageContext struct {
	Page       string `json:"page,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
}

// Event is one element of a turn's response stream. The event carrying
// Complete=true is always the last.
type Event struct {
	Type      string    `json:"type"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
	Complete  bool      `json:"complete"`

	Content     string       `json:"content,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	ToolCall    *ToolCall    `json:"tool_call,omitempty"`
	ToolResult  *ToolResult  `json:"tool_result,omitempty"`
	QuickAction *QuickAction `json:"quick_action,omitempty"`
	Error       *ErrorDetail `json:"error,omitempty"`
}

// ToolCall is a tool invocation the assistant made during the turn.
type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Status     string         `json:"status"`
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	CallID      string    `json:"call_id,omitempty"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Success     bool      `json:"success"`
	Output      any       `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	Retryable   bool      `json:"retryable"`
	ActionID    string    `json:"action_id,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// QuickAction is a suggested follow-up prompt.
type QuickAction struct {
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

// ErrorDetail describes a failed turn.
type ErrorDetail struct {
	Category      string `json:"category"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

// Chat starts a turn and returns its event stream. The stream must be
// closed; cancelling ctx also ends it.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatStream, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/chat", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("governd unreachable: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		return nil, apiErrorFrom(resp.StatusCode, raw)
	}

	scanner := bufio.NewScanner(resp.Body)
	// Tool outputs can push single events past the default buffer.
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	return &ChatStream{body: resp.Body, scanner: scanner}, nil
}

// ChatStream iterates server-sent events from one chat turn.
//
//	stream, err := c.Chat(ctx, req)
//	...
//	defer stream.Close()
//	for stream.Next() {
//	    ev := stream.Current()
//	    ...
//	}
//	return stream.Err()
type ChatStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	current Event
	err     error
	done    bool
}

// Next advances to the next event. It returns false at end of stream or
// on error; check Err afterwards.
func (s *ChatStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	var data strings.Builder
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				s.err = fmt.Errorf("decode event: %w", err)
				return false
			}
			s.current = ev
			if ev.Complete {
				s.done = true
			}
			return true
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment.
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// Event name lines carry no payload; the type is in the JSON.
		}
	}
	if err := s.scanner.Err(); err != nil {
		s.err = fmt.Errorf("read stream: %w", err)
	}
	s.done = true
	return false
}

// Current returns the event read by the last successful Next.
func (s *ChatStream) Current() Event {
	return s.current
}

// Err returns the first error hit while reading the stream.
func (s *ChatStream) Err() error {
	return s.err
}

// Close releases the underlying connection.
func (s *ChatStream) Close() error {
	return s.body.Close()
}
