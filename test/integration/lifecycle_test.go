// Package integration exercises the full turn lifecycle across the real
// orchestrator, gateway, gate, memory, and audit wiring with in-process
// backends. No external infrastructure is required.
package integration

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardlabs/governd/internal/access"
	"github.com/stewardlabs/governd/internal/audit"
	"github.com/stewardlabs/governd/internal/fault"
	"github.com/stewardlabs/governd/internal/gate"
	"github.com/stewardlabs/governd/internal/gateway"
	"github.com/stewardlabs/governd/internal/memory"
	"github.com/stewardlabs/governd/internal/orchestrator"
	"github.com/stewardlabs/governd/internal/reasoner"
	"github.com/stewardlabs/governd/internal/tools"
)

// countingInvoker fakes the tool execution collaborator and records
// every call it sees.
type countingInvoker struct {
	mu    sync.Mutex
	calls []tools.ToolCall
}

func (i *countingInvoker) Invoke(_ context.Context, call tools.ToolCall, _ tools.ExecutionContext) (tools.ToolResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, call)
	return tools.ToolResult{
		CallID:      call.ID,
		Name:        call.Name,
		Status:      tools.StatusCompleted,
		Success:     true,
		Output:      map[string]any{"ok": true},
		CompletedAt: time.Now().UTC(),
	}, nil
}

func (i *countingInvoker) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.calls)
}

// stack is the daemon's service graph on in-process backends.
type stack struct {
	facade    *memory.Facade
	manager   *gate.Manager
	orch      *orchestrator.Service
	auditLog  *audit.Log
	invoker   *countingInvoker
	responder *reasoner.Scripted
}

func newStack(t *testing.T, replies ...reasoner.Reply) *stack {
	t.Helper()

	facade := memory.New(memory.Config{}, memory.Backends{}, nil, nil)
	manager := gate.NewManager(gate.Config{TTL: 24 * time.Hour, FourEyes: true},
		gate.NewMemoryStore(), facade, gate.NopNotifier{}, nil)
	auditLog := audit.NewLog(audit.NewMemoryStore(), nil)
	invoker := &countingInvoker{}

	gw, err := gateway.New(nil, invoker, manager, auditLog, nil)
	require.NoError(t, err)
	manager.SetExecutor(gw)

	responder := reasoner.NewScripted(replies...)
	orch, err := orchestrator.New(orchestrator.Config{}, facade, gw, responder, nil, nil)
	require.NoError(t, err)

	return &stack{
		facade:    facade,
		manager:   manager,
		orch:      orch,
		auditLog:  auditLog,
		invoker:   invoker,
		responder: responder,
	}
}

func analyst() tools.ExecutionContext {
	return tools.ExecutionContext{
		UserID:   "alice",
		TenantID: "acme",
		Permissions: access.UserPermissions{
			UserID:      "alice",
			TenantID:    "acme",
			Permissions: []string{"*:*"},
		},
		RequireHumanApproval: true,
	}
}

func runTurn(t *testing.T, s *stack, req orchestrator.Request) []orchestrator.Event {
	t.Helper()
	ch, err := s.orch.Chat(context.Background(), req)
	require.NoError(t, err)
	var events []orchestrator.Event
	for ev := range ch {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	return events
}

func TestLifecycle_RoutineToolTurn(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	s := newStack(t,
		reasoner.Reply{ToolCalls: []tools.ToolCall{{
			Name:       "getReport",
			Parameters: map[string]any{"reportId": "rpt-42"},
		}}},
		reasoner.Reply{Text: "Liquidity Coverage is healthy as of this morning."},
	)
	ctx := context.Background()

	events := runTurn(t, s, orchestrator.Request{
		SessionID: "sess-1",
		Message:   "How is report rpt-42 doing?",
		Identity:  analyst(),
	})

	// The tool ran once and its result streamed mid-turn.
	assert.Equal(t, 1, s.invoker.count())
	var sawTool bool
	for _, ev := range events {
		if ev.Type == orchestrator.EventToolCall {
			sawTool = true
			require.NotNil(t, ev.ToolResult)
			assert.True(t, ev.ToolResult.Success)
		}
	}
	assert.True(t, sawTool)
	assert.True(t, events[len(events)-1].Complete)

	// The turn left a session, an exchange episode, and an audit entry.
	session, err := s.facade.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Len(t, session.Messages, 2)

	episodes, err := s.facade.QueryEpisodes(ctx, memory.EpisodeFilter{TenantID: "acme", Kind: memory.EpisodeExchange})
	require.NoError(t, err)
	assert.Len(t, episodes, 1)

	entries, err := s.auditLog.Query(ctx, audit.Filter{TenantID: "acme"})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "getReport", entries[0].Action)
	assert.True(t, entries[0].Granted)

	// A follow-up turn resolves "that report" from the tracked entity.
	runTurn(t, s, orchestrator.Request{
		SessionID: "sess-1",
		Message:   "Show me the lineage for that report",
		Identity:  analyst(),
	})

	requests := s.responder.Requests()
	last := requests[len(requests)-1]
	lastTurn := last.Messages[len(last.Messages)-1]
	assert.Contains(t, lastTurn.Content, "rpt-42 (report rpt-42)")
}

func TestLifecycle_CriticalToolNeedsApproval(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	s := newStack(t, reasoner.Reply{ToolCalls: []tools.ToolCall{{
		Name:       "signOffCycle",
		Parameters: map[string]any{"cycleId": "q2-2025"},
	}}})
	ctx := context.Background()

	events := runTurn(t, s, orchestrator.Request{
		SessionID: "sess-2",
		Message:   "Sign off the Q2 cycle",
		Identity:  analyst(),
	})

	// Nothing executed; the call parked as a pending action.
	assert.Equal(t, 0, s.invoker.count())

	var actionID string
	var explained bool
	for _, ev := range events {
		if ev.Type == orchestrator.EventToolCall {
			require.NotNil(t, ev.ToolResult)
			assert.Equal(t, tools.StatusPending, ev.ToolResult.Status)
			actionID = ev.ToolResult.ActionID
		}
		if ev.Type == orchestrator.EventText && strings.Contains(ev.Content, "human approval") {
			explained = true
		}
	}
	require.NotEmpty(t, actionID)
	assert.True(t, explained)

	// Tenant isolation on the pending queue.
	pending, err := s.manager.PendingActions(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	other, err := s.manager.PendingActions(ctx, "globex")
	require.NoError(t, err)
	assert.Empty(t, other)

	// The requester cannot decide their own action.
	_, err = s.manager.ProcessDecision(ctx, gate.DecisionRequest{
		ActionID:     actionID,
		Decision:     gate.DecisionApproved,
		DecidedBy:    "alice",
		DeciderRoles: []string{"cycle-owner"},
	})
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeValidation))

	// An approver with the required role releases the tool.
	result, err := s.manager.ProcessDecision(ctx, gate.DecisionRequest{
		ActionID:     actionID,
		Decision:     gate.DecisionApproved,
		Rationale:    "controls reconciled",
		DecidedBy:    "bob",
		DeciderRoles: []string{"cycle-owner"},
	})
	require.NoError(t, err)
	require.NotNil(t, result.ToolResult)
	assert.True(t, result.ToolResult.Success)
	assert.Equal(t, 1, s.invoker.count())

	// The decision is terminal.
	_, err = s.manager.ProcessDecision(ctx, gate.DecisionRequest{
		ActionID:     actionID,
		Decision:     gate.DecisionRejected,
		DecidedBy:    "carol",
		DeciderRoles: []string{"cycle-owner"},
	})
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeConflict))

	action, err := s.manager.Action(ctx, actionID)
	require.NoError(t, err)
	assert.Equal(t, gate.StateApproved, action.Status)

	// Decision and execution both left durable traces.
	episodes, err := s.facade.QueryEpisodes(ctx, memory.EpisodeFilter{TenantID: "acme", Kind: memory.EpisodeGateDecision})
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Contains(t, episodes[0].Content, "approved by bob")

	entries, err := s.auditLog.Query(ctx, audit.Filter{TenantID: "acme"})
	require.NoError(t, err)
	var executed bool
	for _, entry := range entries {
		if entry.Action == "signOffCycle" && entry.Granted {
			executed = true
		}
	}
	assert.True(t, executed)
}
