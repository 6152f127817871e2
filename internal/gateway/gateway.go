// Package gateway is the single path through which tools execute.
//
// Every invocation is classified against the registry, checked against
// the caller's permissions and data scopes, and audited. Critical tools
// never run directly: when the execution context demands human
// approval, the call is parked as a gate action and a pending result
// goes back to the caller.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stewardlabs/governd/internal/access"
	"github.com/stewardlabs/governd/internal/audit"
	"github.com/stewardlabs/governd/internal/fault"
	"github.com/stewardlabs/governd/internal/gate"
	"github.com/stewardlabs/governd/internal/logging"
	"github.com/stewardlabs/governd/internal/tools"
)

const (
	instrumentationName = "github.com/stewardlabs/governd/internal/gateway"

	// auditSource marks entries written by this package.
	auditSource = "gateway"
)

// Approvals is the slice of the gate manager the gateway uses to park
// critical calls.
type Approvals interface {
	CreateAction(ctx context.Context, req gate.CreateRequest) (gate.Action, error)
	RequestApproval(ctx context.Context, actionID string) error
}

// Gateway mediates every tool invocation.
type Gateway struct {
	registry  *tools.Registry
	invoker   tools.Invoker
	approvals Approvals
	audit     *audit.Log
	logger    *logging.Logger

	now   func() time.Time
	newID func() string

	meter             metric.Meter
	tracer            trace.Tracer
	invocationCounter metric.Int64Counter
	parkedCounter     metric.Int64Counter
}

// New creates the gateway. The invoker, approvals manager, and audit
// log are required; a nil registry falls back to the platform surface.
func New(registry *tools.Registry, invoker tools.Invoker, approvals Approvals, auditLog *audit.Log, logger *logging.Logger) (*Gateway, error) {
	if invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if approvals == nil {
		return nil, fmt.Errorf("approvals manager is required")
	}
	if auditLog == nil {
		return nil, fmt.Errorf("audit log is required")
	}
	if registry == nil {
		registry = tools.Default()
	}
	if logger == nil {
		logger = logging.Nop()
	}

	g := &Gateway{
		registry:  registry,
		invoker:   invoker,
		approvals: approvals,
		audit:     auditLog,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		meter:     otel.Meter(instrumentationName),
		tracer:    otel.Tracer(instrumentationName),
	}
	g.initMetrics()
	return g, nil
}

func (g *Gateway) initMetrics() {
	var err error
	g.invocationCounter, err = g.meter.Int64Counter(
		"governd.gateway.invocations_total",
		metric.WithDescription("Tool invocations by outcome"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		g.logger.Warn(context.Background(), "failed to create gateway counter", zap.Error(err))
	}
	g.parkedCounter, err = g.meter.Int64Counter(
		"governd.gateway.approvals_parked_total",
		metric.WithDescription("Critical calls parked behind the human gate"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		g.logger.Warn(context.Background(), "failed to create gateway counter", zap.Error(err))
	}
}

// Execute runs one tool call through classification, approval parking,
// access control, invocation, and audit.
//
// A pending-approval result is returned with a nil error: an approval
// wait is a state, not a failure. Unknown tools, invalid parameters,
// and denied access return the mirrored failed result alongside the
// classified error.
func (g *Gateway) Execute(ctx context.Context, call tools.ToolCall, ec tools.ExecutionContext) (tools.ToolResult, error) {
	return g.execute(ctx, call, ec, false)
}

// ExecuteApproved runs a tool whose human approval was just granted.
// It bypasses only the approval check; permissions, data scopes,
// invocation, and audit behave exactly as in Execute.
func (g *Gateway) ExecuteApproved(ctx context.Context, call tools.ToolCall, ec tools.ExecutionContext) (tools.ToolResult, error) {
	return g.execute(ctx, call, ec, true)
}

func (g *Gateway) execute(ctx context.Context, call tools.ToolCall, ec tools.ExecutionContext, approved bool) (tools.ToolResult, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.execute", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.Bool("tool.approved", approved),
	))
	defer span.End()

	if call.ID == "" {
		call.ID = g.newID()
	}

	def, ok := g.registry.Get(call.Name)
	if !ok {
		// Nothing was classified or invoked, so no audit entry exists
		// for this call.
		err := fault.New(fault.CodeUnknownTool, fmt.Sprintf("unknown tool %q", call.Name))
		g.countInvocation(ctx, call.Name, "unknown")
		return g.failedResult(call, err), err
	}

	if def.Validate != nil {
		if err := def.Validate(call.Parameters); err != nil {
			g.countInvocation(ctx, call.Name, "invalid")
			return g.failedResult(call, err), err
		}
	}

	if !approved && def.IsCritical() && ec.RequireHumanApproval {
		return g.parkForApproval(ctx, def, call, ec)
	}

	if !ec.Permissions.Can(def.Permission) {
		reason := "missing permission " + def.Permission
		g.recordAudit(ctx, def, call, ec, false, reason)
		g.countInvocation(ctx, call.Name, "denied")
		err := fault.New(fault.CodeAuthorization, reason)
		return g.failedResult(call, err), err
	}

	refs := tools.ExtractEntities(def, call.Parameters)
	if denied := deniedEntities(ec.Permissions, refs); len(denied) > 0 {
		reason := "out-of-scope entities: " + strings.Join(denied, ", ")
		g.recordAudit(ctx, def, call, ec, false, reason)
		g.countInvocation(ctx, call.Name, "denied")
		err := fault.New(fault.CodeAuthorization, reason)
		return g.failedResult(call, err), err
	}

	// The collaborator sees the caller's identity and rights but never
	// the approval flag; gating is settled by this point.
	derived := ec
	derived.RequireHumanApproval = false
	call.Status = tools.StatusRunning

	start := g.now()
	result, invokeErr := g.invoker.Invoke(ctx, call, derived)
	elapsed := g.now().Sub(start)

	var err error
	if invokeErr != nil {
		err = fault.Wrap(fault.CodeToolExecution, invokeErr,
			fmt.Sprintf("tool %s collaborator unreachable", call.Name),
			fault.WithRetryable(fault.IsRetryable(invokeErr)))
		result = g.failedResult(call, err)
	}

	if result.CallID == "" {
		result.CallID = call.ID
	}
	if result.Name == "" {
		result.Name = call.Name
	}
	if result.Status == "" {
		if result.Success {
			result.Status = tools.StatusCompleted
		} else {
			result.Status = tools.StatusFailed
		}
	}
	result.DurationMS = elapsed.Milliseconds()
	if result.CompletedAt.IsZero() {
		result.CompletedAt = g.now().UTC()
	}

	// The audit entry is unconditional on the invocation path: access
	// was granted whether or not the tool succeeded.
	g.recordAudit(ctx, def, call, ec, true, "")

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	g.countInvocation(ctx, call.Name, outcome)
	g.logger.Info(ctx, "tool invoked",
		zap.String("tool", call.Name),
		zap.String("call_id", call.ID),
		zap.Bool("success", result.Success),
		zap.Int64("duration_ms", result.DurationMS),
	)
	return result, err
}

// parkForApproval turns a critical call into a pending gate action.
// No audit entry is written and the collaborator is never contacted.
func (g *Gateway) parkForApproval(ctx context.Context, def *tools.Definition, call tools.ToolCall, ec tools.ExecutionContext) (tools.ToolResult, error) {
	entityID := primaryEntityID(def, call.Parameters)
	rationale, _ := call.Parameters["rationale"].(string)

	action, err := g.approvals.CreateAction(ctx, gate.CreateRequest{
		Type:                 def.Critical.Action,
		Title:                fmt.Sprintf("%s %s", def.Name, entityID),
		Description:          def.Description,
		Impact:               fmt.Sprintf(def.Critical.ImpactTemplate, entityID),
		RequiredRole:         def.Critical.RequiredRole,
		EntityType:           def.EntityType,
		EntityID:             entityID,
		Proposed:             call.Parameters,
		Rationale:            rationale,
		ToolName:             def.Name,
		ToolParams:           call.Parameters,
		RequestedBy:          ec.UserID,
		TenantID:             ec.TenantID,
		SessionID:            ec.SessionID,
		RequesterPermissions: ec.Permissions,
	})
	if err != nil {
		return g.failedResult(call, err), err
	}

	if err := g.approvals.RequestApproval(ctx, action.ID); err != nil {
		// Approvers can still find the action by polling; only the
		// push notification was lost.
		g.logger.Warn(ctx, "failed to announce gate action",
			zap.String("action_id", action.ID),
			zap.Error(err),
		)
	}

	if g.parkedCounter != nil {
		g.parkedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", call.Name),
		))
	}
	g.logger.Info(ctx, "critical tool parked for approval",
		zap.String("tool", call.Name),
		zap.String("action_id", action.ID),
		zap.String("required_role", def.Critical.RequiredRole),
	)

	return tools.ToolResult{
		CallID:    call.ID,
		Name:      call.Name,
		Status:    tools.StatusPending,
		Success:   false,
		Error:     "awaiting human approval",
		ErrorCode: string(fault.CodeApprovalRequired),
		ActionID:  action.ID,
	}, nil
}

func (g *Gateway) recordAudit(ctx context.Context, def *tools.Definition, call tools.ToolCall, ec tools.ExecutionContext, granted bool, denialReason string) {
	refs := tools.ExtractEntities(def, call.Parameters)
	entityIDs := make([]string, 0, len(refs))
	for _, ref := range refs {
		entityIDs = append(entityIDs, ref.ID)
	}

	_, err := g.audit.Record(ctx, audit.Entry{
		UserID:       ec.UserID,
		TenantID:     ec.TenantID,
		SessionID:    ec.SessionID,
		Action:       call.Name,
		EntityType:   def.EntityType,
		EntityIDs:    entityIDs,
		Granted:      granted,
		DenialReason: denialReason,
		Source:       auditSource,
	})
	if err != nil {
		g.logger.Error(ctx, "failed to record audit entry",
			zap.String("tool", call.Name),
			zap.Error(err),
		)
	}
}

func (g *Gateway) failedResult(call tools.ToolCall, err error) tools.ToolResult {
	return tools.ToolResult{
		CallID:      call.ID,
		Name:        call.Name,
		Status:      tools.StatusFailed,
		Success:     false,
		Error:       err.Error(),
		ErrorCode:   string(fault.CodeOf(err)),
		Retryable:   fault.IsRetryable(err),
		CompletedAt: g.now().UTC(),
	}
}

func (g *Gateway) countInvocation(ctx context.Context, tool, outcome string) {
	if g.invocationCounter == nil {
		return
	}
	g.invocationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	))
}

// primaryEntityID returns the first entity id found in the parameters,
// used to render impact statements.
func primaryEntityID(def *tools.Definition, params map[string]any) string {
	refs := tools.ExtractEntities(def, params)
	if len(refs) == 0 {
		return "unknown"
	}
	return refs[0].ID
}

func deniedEntities(perms access.UserPermissions, refs []tools.EntityRef) []string {
	var denied []string
	for _, ref := range refs {
		if !access.AllowsEntity(perms.DataScopes, ref.EntityType, ref.ID) {
			denied = append(denied, ref.ID)
		}
	}
	return denied
}
