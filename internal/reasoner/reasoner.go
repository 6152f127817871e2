// Package reasoner adapts language-reasoning collaborators behind a
// single Responder contract.
//
// The orchestrator hands the collaborator a system prompt, the bounded
// conversation, and the governed tool surface; the collaborator answers
// with text, tool-call requests, or both. The anthropic implementation
// talks to the Claude Messages API; the scripted one is deterministic
// for development and tests.
package reasoner

import (
	"context"
	"fmt"
	"sync"

	"github.com/stewardlabs/governd/internal/memory"
	"github.com/stewardlabs/governd/internal/tools"
)

// Turn is one unit of conversation sent to the collaborator. User turns
// carry content and, during tool rounds, the results being fed back;
// assistant turns carry content and the tool calls that produced those
// results.
type Turn struct {
	Role        memory.Role
	Content     string
	ToolCalls   []tools.ToolCall
	ToolResults []tools.ToolResult
}

// Request is one reasoning invocation.
type Request struct {
	System   string
	Messages []Turn
	Tools    []*tools.Definition
}

// Reply is the collaborator's answer. Text and ToolCalls may both be
// set: models often narrate before requesting a tool.
type Reply struct {
	Text      string
	ToolCalls []tools.ToolCall
}

// Responder produces one reply per request.
type Responder interface {
	Respond(ctx context.Context, req Request) (Reply, error)
}

// Scripted is a deterministic Responder. It replays its queued replies
// in order, repeating the last one when the queue is exhausted; with no
// queue it acknowledges the newest user turn. Used when no reasoning
// backend is configured and throughout the tests.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	next     int
	requests []Request
}

// NewScripted creates a scripted responder with an optional reply queue.
func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Respond implements Responder.
func (s *Scripted) Respond(_ context.Context, req Request) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)

	if len(s.replies) == 0 {
		return Reply{Text: acknowledge(req)}, nil
	}
	idx := s.next
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	s.next++
	return s.replies[idx], nil
}

// Requests returns every request seen so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func acknowledge(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		turn := req.Messages[i]
		if turn.Role == memory.RoleUser && turn.Content != "" {
			return fmt.Sprintf("Received: %q. No reasoning backend is configured; this is a scripted response.", turn.Content)
		}
	}
	return "How can I help with your governed data?"
}
