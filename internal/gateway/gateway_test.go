package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardlabs/governd/internal/access"
	"github.com/stewardlabs/governd/internal/audit"
	"github.com/stewardlabs/governd/internal/fault"
	"github.com/stewardlabs/governd/internal/gate"
	"github.com/stewardlabs/governd/internal/logging"
	"github.com/stewardlabs/governd/internal/tools"
)

type recordingInvoker struct {
	calls  []tools.ToolCall
	ctxs   []tools.ExecutionContext
	result tools.ToolResult
	err    error
}

func (r *recordingInvoker) Invoke(_ context.Context, call tools.ToolCall, ec tools.ExecutionContext) (tools.ToolResult, error) {
	r.calls = append(r.calls, call)
	r.ctxs = append(r.ctxs, ec)
	if r.err != nil {
		return tools.ToolResult{}, r.err
	}
	result := r.result
	result.CallID = call.ID
	result.Name = call.Name
	return result, nil
}

type fakeApprovals struct {
	created   []gate.CreateRequest
	requested []string
	createErr error
}

func (f *fakeApprovals) CreateAction(_ context.Context, req gate.CreateRequest) (gate.Action, error) {
	if f.createErr != nil {
		return gate.Action{}, f.createErr
	}
	f.created = append(f.created, req)
	return gate.Action{ID: fmt.Sprintf("act-%d", len(f.created)), Status: gate.StatePending}, nil
}

func (f *fakeApprovals) RequestApproval(_ context.Context, actionID string) error {
	f.requested = append(f.requested, actionID)
	return nil
}

type gatewayFixture struct {
	gateway   *Gateway
	invoker   *recordingInvoker
	approvals *fakeApprovals
	auditing  *audit.MemoryStore
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	invoker := &recordingInvoker{
		result: tools.ToolResult{
			Status:  tools.StatusCompleted,
			Success: true,
			Output:  map[string]any{"ok": true},
		},
	}
	approvals := &fakeApprovals{}
	store := audit.NewMemoryStore()

	g, err := New(tools.Default(), invoker, approvals, audit.NewLog(store, logging.Nop()), logging.Nop())
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	g.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * 25 * time.Millisecond)
	}
	seq := 0
	g.newID = func() string {
		seq++
		return fmt.Sprintf("call-%d", seq)
	}

	return &gatewayFixture{gateway: g, invoker: invoker, approvals: approvals, auditing: store}
}

func analystContext() tools.ExecutionContext {
	return tools.ExecutionContext{
		UserID:    "alice",
		TenantID:  "acme",
		SessionID: "sess-1",
		Permissions: access.UserPermissions{
			UserID:      "alice",
			TenantID:    "acme",
			Permissions: []string{"report:read", "cycle:read", "cycle:signoff", "catalog:approve"},
		},
		RequireHumanApproval: true,
	}
}

func (fx *gatewayFixture) auditEntries(t *testing.T) []audit.Entry {
	t.Helper()
	entries, err := fx.auditing.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	return entries
}

func TestGateway_RoutineToolInvokedAndAudited(t *testing.T) {
	fx := newGatewayFixture(t)
	ctx := context.Background()

	result, err := fx.gateway.Execute(ctx, tools.ToolCall{
		Name:       "getReport",
		Parameters: map[string]any{"reportId": "rpt-9"},
	}, analystContext())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, tools.StatusCompleted, result.Status)
	assert.Equal(t, "call-1", result.CallID)
	assert.Equal(t, int64(25), result.DurationMS)
	assert.False(t, result.CompletedAt.IsZero())

	require.Len(t, fx.invoker.calls, 1)
	assert.False(t, fx.invoker.ctxs[0].RequireHumanApproval)

	entries := fx.auditEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "getReport", entries[0].Action)
	assert.Equal(t, "report", entries[0].EntityType)
	assert.Equal(t, []string{"rpt-9"}, entries[0].EntityIDs)
	assert.True(t, entries[0].Granted)
	assert.Equal(t, "gateway", entries[0].Source)
}

func TestGateway_UnknownToolIsTerminalWithoutAudit(t *testing.T) {
	fx := newGatewayFixture(t)
	ctx := context.Background()

	result, err := fx.gateway.Execute(ctx, tools.ToolCall{Name: "dropDatabase"}, analystContext())
	require.Error(t, err)

	assert.True(t, fault.IsCode(err, fault.CodeUnknownTool))
	assert.False(t, fault.IsRetryable(err))
	assert.Equal(t, tools.StatusFailed, result.Status)
	assert.Equal(t, string(fault.CodeUnknownTool), result.ErrorCode)

	assert.Empty(t, fx.invoker.calls)
	assert.Empty(t, fx.auditEntries(t))
}

func TestGateway_InvalidParametersRejectedBeforeInvocation(t *testing.T) {
	fx := newGatewayFixture(t)
	ctx := context.Background()

	_, err := fx.gateway.Execute(ctx, tools.ToolCall{
		Name:       "getReport",
		Parameters: map[string]any{},
	}, analystContext())
	require.Error(t, err)

	assert.True(t, fault.IsCode(err, fault.CodeValidation))
	assert.Empty(t, fx.invoker.calls)
	assert.Empty(t, fx.auditEntries(t))
}

func TestGateway_CriticalToolParksForApproval(t *testing.T) {
	fx := newGatewayFixture(t)
	ctx := context.Background()

	result, err := fx.gateway.Execute(ctx, tools.ToolCall{
		Name: "signOffCycle",
		Parameters: map[string]any{
			"cycleId":   "q2-2025",
			"rationale": "all attestations complete",
		},
	}, analystContext())
	require.NoError(t, err)

	assert.Equal(t, tools.StatusPending, result.Status)
	assert.False(t, result.Success)
	assert.Equal(t, "HUMAN_APPROVAL_REQUIRED", result.ErrorCode)
	assert.Equal(t, "act-1", result.ActionID)

	// Parked calls reach neither the collaborator nor the audit log.
	assert.Empty(t, fx.invoker.calls)
	assert.Empty(t, fx.auditEntries(t))

	require.Len(t, fx.approvals.created, 1)
	req := fx.approvals.created[0]
	assert.Equal(t, tools.ActionSignOff, req.Type)
	assert.Equal(t, "cycle-owner", req.RequiredRole)
	assert.Equal(t, "Certifies reporting cycle q2-2025 for regulatory submission.", req.Impact)
	assert.Equal(t, "signOffCycle", req.ToolName)
	assert.Equal(t, "all attestations complete", req.Rationale)
	assert.Equal(t, "alice", req.RequestedBy)
	assert.Equal(t, []string{"report:read", "cycle:read", "cycle:signoff", "catalog:approve"}, req.RequesterPermissions.Permissions)

	assert.Equal(t, []string{"act-1"}, fx.approvals.requested)
}

func TestGateway_CriticalToolRunsWhenApprovalNotRequired(t *testing.T) {
	fx := newGatewayFixture(t)
	ctx := context.Background()

	ec := analystContext()
	ec.RequireHumanApproval = false

	result, err := fx.gateway.Execute(ctx, tools.ToolCall{
		Name:       "signOffCycle",
		Parameters: map[string]any{"cycleId": "q2-2025"},
	}, ec)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, fx.approvals.created)
	require.Len(t, fx.invoker.calls, 1)
	assert.Len(t, fx.auditEntries(t), 1)
}

func TestGateway_ExecuteApprovedBypassesOnlyTheGate(t *testing.T) {
	fx := newGatewayFixture(t)
	ctx := context.Background()

	result, err := fx.gateway.ExecuteApproved(ctx, tools.ToolCall{
		Name:       "signOffCycle",
		Parameters: map[string]any{"cycleId": "q2-2025"},
	}, analystContext())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, fx.approvals.created)
	require.Len(t, fx.invoker.calls, 1)

	entries := fx.auditEntries(t)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Granted)
}

func TestGateway_ExecuteApprovedStillChecksPermissions(t *testing.T) {
	fx := newGatewayFixture(t)
	ctx := context.Background()

	ec := analystContext()
	ec.Permissions.Permissions = []string{"report:read"}

	_, err := fx.gateway.ExecuteApproved(ctx, tools.ToolCall{
		Name:       "signOffCycle",
		Parameters: map[string]any{"cycleId": "q2-2025"},
	}, ec)
	require.Error(t, err)

	assert.True(t, fault.IsCode(err, fault.CodeAuthorization))
	assert.Empty(t, fx.invoker.calls)
}

func TestGateway_MissingPermissionDeniedAndAudited(t *testing.T) {
	fx := newGatewayFixture(t)
	ctx := context.Background()

	ec := analystContext()
	ec.Permissions.Permissions = []string{"cycle:read"}

	result, err := fx.gateway.Execute(ctx, tools.ToolCall{
		Name:       "getReport",
		Parameters: map[string]any{"reportId": "rpt-9"},
	}, ec)
	require.Error(t, err)

	assert.True(t, fault.IsCode(err, fault.CodeAuthorization))
	assert.Equal(t, tools.StatusFailed, result.Status)
	assert.Empty(t, fx.invoker.calls)

	entries := fx.auditEntries(t)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Granted)
	assert.Contains(t, entries[0].DenialReason, "report:read")
}

func TestGateway_OutOfScopeEntityDeniedAndAudited(t *testing.T) {
	fx := newGatewayFixture(t)
	ctx := context.Background()

	ec := analystContext()
	ec.Permissions.DataScopes = []access.DataScope{
		{EntityType: "report", DeniedIDs: []string{"rpt-secret"}},
	}

	_, err := fx.gateway.Execute(ctx, tools.ToolCall{
		Name:       "getReport",
		Parameters: map[string]any{"reportId": "rpt-secret"},
	}, ec)
	require.Error(t, err)

	assert.True(t, fault.IsCode(err, fault.CodeAuthorization))
	assert.Empty(t, fx.invoker.calls)

	entries := fx.auditEntries(t)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Granted)
	assert.Contains(t, entries[0].DenialReason, "rpt-secret")
}

func TestGateway_CollaboratorFailureResultPassesThrough(t *testing.T) {
	fx := newGatewayFixture(t)
	fx.invoker.result = tools.ToolResult{
		Status:    tools.StatusFailed,
		Success:   false,
		Error:     "report service returned 503",
		ErrorCode: string(fault.CodeToolExecution),
		Retryable: true,
	}
	ctx := context.Background()

	result, err := fx.gateway.Execute(ctx, tools.ToolCall{
		Name:       "getReport",
		Parameters: map[string]any{"reportId": "rpt-9"},
	}, analystContext())
	require.NoError(t, err)

	// The collaborator's own verdict, including retryability, is
	// passed through unchanged.
	assert.False(t, result.Success)
	assert.True(t, result.Retryable)
	assert.Equal(t, "report service returned 503", result.Error)

	entries := fx.auditEntries(t)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Granted)
}

func TestGateway_CollaboratorUnreachableStillAudits(t *testing.T) {
	fx := newGatewayFixture(t)
	fx.invoker.err = errors.New("dial tcp: connection refused")
	ctx := context.Background()

	result, err := fx.gateway.Execute(ctx, tools.ToolCall{
		Name:       "getReport",
		Parameters: map[string]any{"reportId": "rpt-9"},
	}, analystContext())
	require.Error(t, err)

	assert.True(t, fault.IsCode(err, fault.CodeToolExecution))
	assert.Equal(t, tools.StatusFailed, result.Status)
	assert.Len(t, fx.auditEntries(t), 1)
}

func TestGateway_ParkFailurePropagates(t *testing.T) {
	fx := newGatewayFixture(t)
	fx.approvals.createErr = fault.New(fault.CodeInternal, "store unavailable")
	ctx := context.Background()

	_, err := fx.gateway.Execute(ctx, tools.ToolCall{
		Name:       "signOffCycle",
		Parameters: map[string]any{"cycleId": "q2-2025"},
	}, analystContext())
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeInternal))
}
