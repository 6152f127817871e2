package gate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardlabs/governd/internal/access"
	"github.com/stewardlabs/governd/internal/fault"
	"github.com/stewardlabs/governd/internal/logging"
	"github.com/stewardlabs/governd/internal/memory"
	"github.com/stewardlabs/governd/internal/tools"
)

type fakeExecutor struct {
	calls  []tools.ToolCall
	ctxs   []tools.ExecutionContext
	result tools.ToolResult
	err    error
}

func (f *fakeExecutor) ExecuteApproved(_ context.Context, call tools.ToolCall, ec tools.ExecutionContext) (tools.ToolResult, error) {
	f.calls = append(f.calls, call)
	f.ctxs = append(f.ctxs, ec)
	if f.err != nil {
		return tools.ToolResult{}, f.err
	}
	result := f.result
	result.CallID = call.ID
	result.Name = call.Name
	return result, nil
}

type fakeNotifier struct {
	created []Action
	decided []Result
	expired []Action
}

func (f *fakeNotifier) ActionCreated(_ context.Context, action Action) { f.created = append(f.created, action) }

func (f *fakeNotifier) ActionDecided(_ context.Context, _ Action, result Result) {
	f.decided = append(f.decided, result)
}

func (f *fakeNotifier) ActionExpired(_ context.Context, action Action) {
	f.expired = append(f.expired, action)
}

type fakeRecorder struct {
	episodes []memory.Episode
}

func (f *fakeRecorder) RecordEpisode(_ context.Context, ep memory.Episode) (memory.Episode, error) {
	f.episodes = append(f.episodes, ep)
	return ep, nil
}

type managerFixture struct {
	manager  *Manager
	notifier *fakeNotifier
	recorder *fakeRecorder
	executor *fakeExecutor
	clock    *time.Time
}

func newManagerFixture(t *testing.T, cfg Config) *managerFixture {
	t.Helper()

	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}
	executor := &fakeExecutor{
		result: tools.ToolResult{
			Status:  tools.StatusCompleted,
			Success: true,
			Output:  map[string]any{"approved": true},
		},
	}

	m := NewManager(cfg, nil, recorder, notifier, logging.Nop())
	m.SetExecutor(executor)

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := &now
	m.now = func() time.Time { return *clock }
	seq := 0
	m.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}

	return &managerFixture{
		manager:  m,
		notifier: notifier,
		recorder: recorder,
		executor: executor,
		clock:    clock,
	}
}

func signOffRequest() CreateRequest {
	return CreateRequest{
		Type:         tools.ActionSignOff,
		Title:        "Certify cycle q2-2025",
		Description:  "Certify a reporting cycle as complete for submission.",
		Impact:       "Certifies reporting cycle q2-2025 for regulatory submission.",
		RequiredRole: "cycle-owner",
		EntityType:   "cycle",
		EntityID:     "q2-2025",
		ToolName:     "signOffCycle",
		ToolParams:   map[string]any{"cycleId": "q2-2025"},
		RequestedBy:  "alice",
		TenantID:     "acme",
		SessionID:    "sess-1",
		RequesterPermissions: access.UserPermissions{
			UserID:      "alice",
			TenantID:    "acme",
			Permissions: []string{"cycle:signoff"},
		},
	}
}

func TestManager_CreateActionStartsPending(t *testing.T) {
	fx := newManagerFixture(t, Config{TTL: time.Hour})
	ctx := context.Background()

	action, err := fx.manager.CreateAction(ctx, signOffRequest())
	require.NoError(t, err)

	assert.Equal(t, StatePending, action.Status)
	assert.Equal(t, "id-1", action.ID)
	assert.Equal(t, action.CreatedAt.Add(time.Hour), action.ExpiresAt)

	pending, err := fx.manager.PendingActions(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, action.ID, pending[0].ID)
}

func TestManager_CreateActionValidation(t *testing.T) {
	fx := newManagerFixture(t, Config{})
	ctx := context.Background()

	req := signOffRequest()
	req.Title = ""
	_, err := fx.manager.CreateAction(ctx, req)
	assert.True(t, fault.IsCode(err, fault.CodeValidation))

	req = signOffRequest()
	req.TenantID = ""
	_, err = fx.manager.CreateAction(ctx, req)
	assert.True(t, fault.IsCode(err, fault.CodeValidation))
}

func TestManager_RequestApprovalNotifies(t *testing.T) {
	fx := newManagerFixture(t, Config{})
	ctx := context.Background()

	action, err := fx.manager.CreateAction(ctx, signOffRequest())
	require.NoError(t, err)

	require.NoError(t, fx.manager.RequestApproval(ctx, action.ID))
	require.Len(t, fx.notifier.created, 1)
	assert.Equal(t, action.ID, fx.notifier.created[0].ID)

	err = fx.manager.RequestApproval(ctx, "missing")
	assert.True(t, fault.IsCode(err, fault.CodeNotFound))
}

func TestManager_ApprovalExecutesAttachedToolOnce(t *testing.T) {
	fx := newManagerFixture(t, Config{})
	ctx := context.Background()

	action, err := fx.manager.CreateAction(ctx, signOffRequest())
	require.NoError(t, err)

	result, err := fx.manager.ProcessDecision(ctx, DecisionRequest{
		ActionID:     action.ID,
		Decision:     DecisionApproved,
		Rationale:    "all attestations in",
		DecidedBy:    "bob",
		DeciderRoles: []string{"cycle-owner"},
	})
	require.NoError(t, err)

	require.Len(t, fx.executor.calls, 1)
	assert.Equal(t, "signOffCycle", fx.executor.calls[0].Name)
	assert.Equal(t, map[string]any{"cycleId": "q2-2025"}, fx.executor.calls[0].Parameters)

	// The tool runs as the original requester, not the decider.
	assert.Equal(t, "alice", fx.executor.ctxs[0].UserID)
	assert.False(t, fx.executor.ctxs[0].RequireHumanApproval)

	require.NotNil(t, result.ToolResult)
	assert.True(t, result.ToolResult.Success)
	assert.Equal(t, DecisionApproved, result.Decision)
	assert.Equal(t, "bob", result.DecidedBy)

	stored, err := fx.manager.Action(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, stored.Status)

	pending, err := fx.manager.PendingActions(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestManager_SecondDecisionIsConflict(t *testing.T) {
	fx := newManagerFixture(t, Config{})
	ctx := context.Background()

	action, err := fx.manager.CreateAction(ctx, signOffRequest())
	require.NoError(t, err)

	first := DecisionRequest{
		ActionID:     action.ID,
		Decision:     DecisionRejected,
		DecidedBy:    "bob",
		DeciderRoles: []string{"cycle-owner"},
	}
	_, err = fx.manager.ProcessDecision(ctx, first)
	require.NoError(t, err)

	for _, decision := range []Decision{DecisionApproved, DecisionRejected, DecisionDeferred} {
		req := first
		req.Decision = decision
		_, err := fx.manager.ProcessDecision(ctx, req)
		assert.True(t, fault.IsCode(err, fault.CodeConflict), "decision %s after terminal state", decision)
	}

	// Rejection never reaches the executor.
	assert.Empty(t, fx.executor.calls)
}

func TestManager_RejectAndDeferAreTerminal(t *testing.T) {
	for _, tc := range []struct {
		decision Decision
		state    State
	}{
		{DecisionRejected, StateRejected},
		{DecisionDeferred, StateDeferred},
	} {
		t.Run(string(tc.decision), func(t *testing.T) {
			fx := newManagerFixture(t, Config{})
			ctx := context.Background()

			action, err := fx.manager.CreateAction(ctx, signOffRequest())
			require.NoError(t, err)

			result, err := fx.manager.ProcessDecision(ctx, DecisionRequest{
				ActionID:     action.ID,
				Decision:     tc.decision,
				DecidedBy:    "bob",
				DeciderRoles: []string{"cycle-owner"},
			})
			require.NoError(t, err)
			assert.Nil(t, result.ToolResult)

			stored, err := fx.manager.Action(ctx, action.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.state, stored.Status)
			assert.Empty(t, fx.executor.calls)
		})
	}
}

func TestManager_FourEyesBlocksSelfDecision(t *testing.T) {
	fx := newManagerFixture(t, Config{FourEyes: true})
	ctx := context.Background()

	action, err := fx.manager.CreateAction(ctx, signOffRequest())
	require.NoError(t, err)

	_, err = fx.manager.ProcessDecision(ctx, DecisionRequest{
		ActionID:     action.ID,
		Decision:     DecisionApproved,
		DecidedBy:    "alice",
		DeciderRoles: []string{"cycle-owner"},
	})
	assert.True(t, fault.IsCode(err, fault.CodeValidation))

	// The action stays pending and decidable by someone else.
	_, err = fx.manager.ProcessDecision(ctx, DecisionRequest{
		ActionID:     action.ID,
		Decision:     DecisionApproved,
		DecidedBy:    "bob",
		DeciderRoles: []string{"cycle-owner"},
	})
	assert.NoError(t, err)
}

func TestManager_FourEyesDisabledAllowsSelfDecision(t *testing.T) {
	fx := newManagerFixture(t, Config{FourEyes: false})
	ctx := context.Background()

	action, err := fx.manager.CreateAction(ctx, signOffRequest())
	require.NoError(t, err)

	_, err = fx.manager.ProcessDecision(ctx, DecisionRequest{
		ActionID:     action.ID,
		Decision:     DecisionApproved,
		DecidedBy:    "alice",
		DeciderRoles: []string{"cycle-owner"},
	})
	assert.NoError(t, err)
}

func TestManager_DecisionRequiresRole(t *testing.T) {
	fx := newManagerFixture(t, Config{})
	ctx := context.Background()

	action, err := fx.manager.CreateAction(ctx, signOffRequest())
	require.NoError(t, err)

	_, err = fx.manager.ProcessDecision(ctx, DecisionRequest{
		ActionID:     action.ID,
		Decision:     DecisionApproved,
		DecidedBy:    "bob",
		DeciderRoles: []string{"data-steward"},
	})
	assert.True(t, fault.IsCode(err, fault.CodeAuthorization))
	assert.Empty(t, fx.executor.calls)
}

func TestManager_UnknownDecisionAndActionFail(t *testing.T) {
	fx := newManagerFixture(t, Config{})
	ctx := context.Background()

	_, err := fx.manager.ProcessDecision(ctx, DecisionRequest{
		ActionID:  "missing",
		Decision:  DecisionApproved,
		DecidedBy: "bob",
	})
	assert.True(t, fault.IsCode(err, fault.CodeNotFound))

	action, err := fx.manager.CreateAction(ctx, signOffRequest())
	require.NoError(t, err)

	_, err = fx.manager.ProcessDecision(ctx, DecisionRequest{
		ActionID:  action.ID,
		Decision:  Decision("maybe"),
		DecidedBy: "bob",
	})
	assert.True(t, fault.IsCode(err, fault.CodeValidation))
}

func TestManager_ExecutorFailureStillRecordsDecision(t *testing.T) {
	fx := newManagerFixture(t, Config{})
	fx.executor.err = fault.New(fault.CodeToolExecution, "collaborator unreachable", fault.WithRetryable(true))
	ctx := context.Background()

	action, err := fx.manager.CreateAction(ctx, signOffRequest())
	require.NoError(t, err)

	result, err := fx.manager.ProcessDecision(ctx, DecisionRequest{
		ActionID:     action.ID,
		Decision:     DecisionApproved,
		DecidedBy:    "bob",
		DeciderRoles: []string{"cycle-owner"},
	})
	require.NoError(t, err)

	require.NotNil(t, result.ToolResult)
	assert.False(t, result.ToolResult.Success)
	assert.Equal(t, string(fault.CodeToolExecution), result.ToolResult.ErrorCode)
	assert.True(t, result.ToolResult.Retryable)

	stored, err := fx.manager.Action(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, stored.Status)
}

func TestManager_ExpirePendingSweepsOnlyLapsed(t *testing.T) {
	fx := newManagerFixture(t, Config{TTL: time.Hour})
	ctx := context.Background()

	first, err := fx.manager.CreateAction(ctx, signOffRequest())
	require.NoError(t, err)

	*fx.clock = fx.clock.Add(50 * time.Minute)
	second, err := fx.manager.CreateAction(ctx, signOffRequest())
	require.NoError(t, err)

	*fx.clock = fx.clock.Add(20 * time.Minute)
	expired, err := fx.manager.ExpirePending(ctx)
	require.NoError(t, err)

	require.Len(t, expired, 1)
	assert.Equal(t, first.ID, expired[0].ID)
	assert.Equal(t, StateExpired, expired[0].Status)

	require.Len(t, fx.notifier.expired, 1)
	assert.Equal(t, first.ID, fx.notifier.expired[0].ID)

	pending, err := fx.manager.PendingActions(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func TestManager_DecisionOnLapsedActionExpiresIt(t *testing.T) {
	fx := newManagerFixture(t, Config{TTL: time.Hour})
	ctx := context.Background()

	action, err := fx.manager.CreateAction(ctx, signOffRequest())
	require.NoError(t, err)

	*fx.clock = fx.clock.Add(2 * time.Hour)
	_, err = fx.manager.ProcessDecision(ctx, DecisionRequest{
		ActionID:     action.ID,
		Decision:     DecisionApproved,
		DecidedBy:    "bob",
		DeciderRoles: []string{"cycle-owner"},
	})
	assert.True(t, fault.IsCode(err, fault.CodeConflict))

	stored, err := fx.manager.Action(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, stored.Status)
	assert.Empty(t, fx.executor.calls)
}

func TestManager_EveryDecisionRecordsOneEpisode(t *testing.T) {
	fx := newManagerFixture(t, Config{})
	ctx := context.Background()

	for i, decision := range []Decision{DecisionApproved, DecisionRejected, DecisionDeferred} {
		action, err := fx.manager.CreateAction(ctx, signOffRequest())
		require.NoError(t, err)

		_, err = fx.manager.ProcessDecision(ctx, DecisionRequest{
			ActionID:     action.ID,
			Decision:     decision,
			DecidedBy:    "bob",
			DeciderRoles: []string{"cycle-owner"},
		})
		require.NoError(t, err)

		require.Len(t, fx.recorder.episodes, i+1)
		ep := fx.recorder.episodes[i]
		assert.Equal(t, memory.EpisodeGateDecision, ep.Kind)
		assert.Equal(t, "acme", ep.TenantID)
		assert.Equal(t, string(decision), ep.Metadata["outcome"])
		assert.Equal(t, action.ID, ep.Metadata["action_id"])
	}
}

func TestManager_ResultLookup(t *testing.T) {
	fx := newManagerFixture(t, Config{})
	ctx := context.Background()

	_, err := fx.manager.Result(ctx, "missing")
	assert.True(t, fault.IsCode(err, fault.CodeNotFound))

	action, err := fx.manager.CreateAction(ctx, signOffRequest())
	require.NoError(t, err)

	want, err := fx.manager.ProcessDecision(ctx, DecisionRequest{
		ActionID:     action.ID,
		Decision:     DecisionRejected,
		Rationale:    "missing attestations",
		DecidedBy:    "bob",
		DeciderRoles: []string{"cycle-owner"},
	})
	require.NoError(t, err)

	got, err := fx.manager.Result(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMemoryStore_PutResultRefusesDuplicates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.PutResult(ctx, Result{ActionID: "a-1", Decision: DecisionApproved}))
	err := store.PutResult(ctx, Result{ActionID: "a-1", Decision: DecisionRejected})
	assert.True(t, fault.IsCode(err, fault.CodeConflict))
}

func TestMemoryStore_PendingOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.PutAction(ctx, Action{ID: "b", TenantID: "acme", Status: StatePending, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, store.PutAction(ctx, Action{ID: "a", TenantID: "acme", Status: StatePending, CreatedAt: base}))
	require.NoError(t, store.PutAction(ctx, Action{ID: "c", TenantID: "other", Status: StatePending, CreatedAt: base}))
	require.NoError(t, store.PutAction(ctx, Action{ID: "d", TenantID: "acme", Status: StateApproved, CreatedAt: base}))

	pending, err := store.PendingActions(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "b", pending[1].ID)

	all, err := store.PendingActions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
