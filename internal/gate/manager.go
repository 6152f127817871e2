package gate

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stewardlabs/governd/internal/access"
	"github.com/stewardlabs/governd/internal/fault"
	"github.com/stewardlabs/governd/internal/logging"
	"github.com/stewardlabs/governd/internal/memory"
	"github.com/stewardlabs/governd/internal/tools"
)

const instrumentationName = "github.com/stewardlabs/governd/internal/gate"

// Config holds approval workflow settings.
type Config struct {
	// TTL is how long an action stays decidable.
	TTL time.Duration

	// FourEyes forbids deciding one's own action.
	FourEyes bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:      24 * time.Hour,
		FourEyes: true,
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
}

// ToolExecutor runs the tool attached to an approved action. The
// gateway implements this; the indirection exists because the gateway
// also creates actions through the manager.
type ToolExecutor interface {
	ExecuteApproved(ctx context.Context, call tools.ToolCall, ec tools.ExecutionContext) (tools.ToolResult, error)
}

// EpisodeRecorder writes the audit episode each decision produces.
// *memory.Facade satisfies it.
type EpisodeRecorder interface {
	RecordEpisode(ctx context.Context, ep memory.Episode) (memory.Episode, error)
}

// CreateRequest describes a new action to park behind the gate.
type CreateRequest struct {
	Type         tools.ActionType
	Title        string
	Description  string
	Impact       string
	RequiredRole string

	EntityType string
	EntityID   string
	Proposed   map[string]any
	Rationale  string

	ToolName   string
	ToolParams map[string]any

	RequestedBy string
	TenantID    string
	SessionID   string

	RequesterPermissions access.UserPermissions
}

// DecisionRequest is one human verdict on a pending action.
type DecisionRequest struct {
	ActionID     string
	Decision     Decision
	Rationale    string
	DecidedBy    string
	DeciderRoles []string
	Signature    string
}

// Manager owns the approval state machine.
//
// Expiry is caller-driven: nothing here runs a timer. ExpirePending
// sweeps lapsed actions when an operator or scheduler asks, and
// ProcessDecision expires a lapsed action lazily before rejecting the
// decision as a conflict.
type Manager struct {
	config   Config
	store    Store
	recorder EpisodeRecorder
	notifier Notifier
	logger   *logging.Logger

	// executor is bound after construction to break the cycle with the
	// gateway.
	executor ToolExecutor

	mu    sync.Mutex
	now   func() time.Time
	newID func() string

	meter          metric.Meter
	tracer         trace.Tracer
	createdCounter metric.Int64Counter
	decidedCounter metric.Int64Counter
	expiredCounter metric.Int64Counter
}

// NewManager creates the gate manager. A nil store falls back to the
// in-memory implementation; a nil notifier discards events.
func NewManager(cfg Config, store Store, recorder EpisodeRecorder, notifier Notifier, logger *logging.Logger) *Manager {
	cfg.ApplyDefaults()
	if store == nil {
		store = NewMemoryStore()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = logging.Nop()
	}

	m := &Manager{
		config:   cfg,
		store:    store,
		recorder: recorder,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		meter:    otel.Meter(instrumentationName),
		tracer:   otel.Tracer(instrumentationName),
	}
	m.initMetrics()
	return m
}

func (m *Manager) initMetrics() {
	var err error
	m.createdCounter, err = m.meter.Int64Counter(
		"governd.gate.actions_created_total",
		metric.WithDescription("Critical actions parked behind the human gate"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create gate counter", zap.Error(err))
	}
	m.decidedCounter, err = m.meter.Int64Counter(
		"governd.gate.actions_decided_total",
		metric.WithDescription("Human decisions processed"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create gate counter", zap.Error(err))
	}
	m.expiredCounter, err = m.meter.Int64Counter(
		"governd.gate.actions_expired_total",
		metric.WithDescription("Actions that lapsed undecided"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create gate counter", zap.Error(err))
	}
}

// SetExecutor binds the tool executor used for approved actions. Must
// be called before the first approval is processed.
func (m *Manager) SetExecutor(exec ToolExecutor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executor = exec
}

// CreateAction parks a new action in the pending set and returns it
// with id, timestamps, and TTL assigned.
func (m *Manager) CreateAction(ctx context.Context, req CreateRequest) (Action, error) {
	ctx, span := m.tracer.Start(ctx, "gate.create_action")
	defer span.End()

	if req.Title == "" {
		return Action{}, fault.New(fault.CodeValidation, "action title is required")
	}
	if req.RequestedBy == "" || req.TenantID == "" {
		return Action{}, fault.New(fault.CodeValidation, "action requester and tenant are required")
	}

	created := m.now().UTC()
	action := Action{
		ID:                   m.newID(),
		Type:                 req.Type,
		Title:                req.Title,
		Description:          req.Description,
		Impact:               req.Impact,
		RequiredRole:         req.RequiredRole,
		EntityType:           req.EntityType,
		EntityID:             req.EntityID,
		Proposed:             req.Proposed,
		Rationale:            req.Rationale,
		ToolName:             req.ToolName,
		ToolParams:           req.ToolParams,
		RequestedBy:          req.RequestedBy,
		TenantID:             req.TenantID,
		SessionID:            req.SessionID,
		RequesterPermissions: req.RequesterPermissions,
		CreatedAt:            created,
		ExpiresAt:            created.Add(m.config.TTL),
		Status:               StatePending,
	}

	if err := m.store.PutAction(ctx, action); err != nil {
		return Action{}, err
	}

	if m.createdCounter != nil {
		m.createdCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action_type", string(action.Type)),
		))
	}
	m.logger.Info(ctx, "gate action created",
		zap.String("action_id", action.ID),
		zap.String("action_type", string(action.Type)),
		zap.String("tool", action.ToolName),
		zap.Time("expires_at", action.ExpiresAt),
	)
	return action, nil
}

// RequestApproval announces a pending action to approvers through the
// configured notifier.
func (m *Manager) RequestApproval(ctx context.Context, actionID string) error {
	action, ok, err := m.store.GetAction(ctx, actionID)
	if err != nil {
		return err
	}
	if !ok {
		return fault.New(fault.CodeNotFound, "action "+actionID+" not found")
	}
	if action.Status != StatePending {
		return fault.New(fault.CodeConflict, "action "+actionID+" is already "+string(action.Status))
	}

	m.notifier.ActionCreated(ctx, action)
	m.logger.Debug(ctx, "approval requested", zap.String("action_id", actionID))
	return nil
}

// ProcessDecision applies one human verdict.
//
// The action must still be pending: deciding a decided action is a
// conflict, as is deciding one whose TTL lapsed (which is expired on
// the spot). When an approval carries an attached tool, the tool runs
// synchronously through the bound executor and its result is embedded
// in the returned Result.
func (m *Manager) ProcessDecision(ctx context.Context, req DecisionRequest) (Result, error) {
	ctx, span := m.tracer.Start(ctx, "gate.process_decision")
	defer span.End()

	if req.ActionID == "" || req.DecidedBy == "" {
		return Result{}, fault.New(fault.CodeValidation, "action id and decider are required")
	}
	terminal, ok := stateFor(req.Decision)
	if !ok {
		return Result{}, fault.New(fault.CodeValidation, fmt.Sprintf("unknown decision %q", req.Decision))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	action, found, err := m.store.GetAction(ctx, req.ActionID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, fault.New(fault.CodeNotFound, "action "+req.ActionID+" not found")
	}
	if action.Status != StatePending {
		return Result{}, fault.New(fault.CodeConflict, "action "+req.ActionID+" is already "+string(action.Status))
	}
	if action.Expired(m.now()) {
		if err := m.expireLocked(ctx, action); err != nil {
			return Result{}, err
		}
		return Result{}, fault.New(fault.CodeConflict, "action "+req.ActionID+" has expired")
	}

	if m.config.FourEyes && req.DecidedBy == action.RequestedBy {
		return Result{}, fault.New(fault.CodeValidation, "requester cannot decide their own action")
	}
	if action.RequiredRole != "" && !slices.Contains(req.DeciderRoles, action.RequiredRole) {
		return Result{}, fault.New(fault.CodeAuthorization,
			fmt.Sprintf("deciding this action requires role %q", action.RequiredRole))
	}

	result := Result{
		ActionID:  action.ID,
		Decision:  req.Decision,
		Rationale: req.Rationale,
		DecidedBy: req.DecidedBy,
		DecidedAt: m.now().UTC(),
		Signature: req.Signature,
	}

	if req.Decision == DecisionApproved && action.ToolName != "" {
		if m.executor == nil {
			return Result{}, fault.New(fault.CodeInternal, "no tool executor bound")
		}
		toolResult := m.runApprovedTool(ctx, action)
		result.ToolResult = &toolResult
	}

	if err := m.store.PutResult(ctx, result); err != nil {
		return Result{}, err
	}
	action.Status = terminal
	if err := m.store.UpdateAction(ctx, action); err != nil {
		return Result{}, err
	}

	m.notifier.ActionDecided(ctx, action, result)
	m.recordDecisionEpisode(ctx, action, result)

	if m.decidedCounter != nil {
		m.decidedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action_type", string(action.Type)),
			attribute.String("decision", string(req.Decision)),
		))
	}
	m.logger.Info(ctx, "gate decision processed",
		zap.String("action_id", action.ID),
		zap.String("decision", string(req.Decision)),
		zap.String("decided_by", req.DecidedBy),
		zap.Bool("tool_executed", result.ToolResult != nil),
	)
	return result, nil
}

// runApprovedTool executes the attached tool with the requester's
// recorded identity and permissions. Executor failures become a failed
// ToolResult so the human decision is still recorded.
func (m *Manager) runApprovedTool(ctx context.Context, action Action) tools.ToolResult {
	call := tools.ToolCall{
		ID:         m.newID(),
		Name:       action.ToolName,
		Parameters: action.ToolParams,
		Status:     tools.StatusPending,
	}
	ec := tools.ExecutionContext{
		UserID:      action.RequestedBy,
		TenantID:    action.TenantID,
		SessionID:   action.SessionID,
		Permissions: action.RequesterPermissions,
	}

	result, err := m.executor.ExecuteApproved(ctx, call, ec)
	if err != nil {
		m.logger.Error(ctx, "approved tool execution failed",
			zap.String("action_id", action.ID),
			zap.String("tool", action.ToolName),
			zap.Error(err),
		)
		return tools.ToolResult{
			CallID:      call.ID,
			Name:        call.Name,
			Status:      tools.StatusFailed,
			Success:     false,
			Error:       err.Error(),
			ErrorCode:   string(fault.CodeOf(err)),
			Retryable:   fault.IsRetryable(err),
			CompletedAt: m.now().UTC(),
		}
	}
	return result
}

// Action returns an action by id.
func (m *Manager) Action(ctx context.Context, id string) (Action, error) {
	action, ok, err := m.store.GetAction(ctx, id)
	if err != nil {
		return Action{}, err
	}
	if !ok {
		return Action{}, fault.New(fault.CodeNotFound, "action "+id+" not found")
	}
	return action, nil
}

// Result returns the decision recorded for an action.
func (m *Manager) Result(ctx context.Context, actionID string) (Result, error) {
	result, ok, err := m.store.GetResult(ctx, actionID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fault.New(fault.CodeNotFound, "no decision recorded for action "+actionID)
	}
	return result, nil
}

// PendingActions returns the pending set for a tenant, oldest first.
func (m *Manager) PendingActions(ctx context.Context, tenantID string) ([]Action, error) {
	return m.store.PendingActions(ctx, tenantID)
}

// ExpirePending sweeps every pending action whose TTL has lapsed and
// returns the actions it expired.
func (m *Manager) ExpirePending(ctx context.Context) ([]Action, error) {
	ctx, span := m.tracer.Start(ctx, "gate.expire_pending")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.store.PendingActions(ctx, "")
	if err != nil {
		return nil, err
	}

	now := m.now()
	var expired []Action
	for _, action := range pending {
		if !action.Expired(now) {
			continue
		}
		if err := m.expireLocked(ctx, action); err != nil {
			return expired, err
		}
		action.Status = StateExpired
		expired = append(expired, action)
	}
	return expired, nil
}

// expireLocked transitions one action to expired. Caller holds m.mu.
func (m *Manager) expireLocked(ctx context.Context, action Action) error {
	action.Status = StateExpired
	if err := m.store.UpdateAction(ctx, action); err != nil {
		return err
	}

	m.notifier.ActionExpired(ctx, action)
	m.recordExpiryEpisode(ctx, action)

	if m.expiredCounter != nil {
		m.expiredCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action_type", string(action.Type)),
		))
	}
	m.logger.Info(ctx, "gate action expired",
		zap.String("action_id", action.ID),
		zap.String("action_type", string(action.Type)),
	)
	return nil
}

func (m *Manager) recordDecisionEpisode(ctx context.Context, action Action, result Result) {
	if m.recorder == nil {
		return
	}
	content := fmt.Sprintf("Gate action %q %s by %s", action.Title, result.Decision, result.DecidedBy)
	if result.Rationale != "" {
		content += ": " + result.Rationale
	}
	m.recordEpisode(ctx, action, result.DecidedBy, string(result.Decision), content)
}

func (m *Manager) recordExpiryEpisode(ctx context.Context, action Action) {
	if m.recorder == nil {
		return
	}
	content := fmt.Sprintf("Gate action %q expired undecided", action.Title)
	m.recordEpisode(ctx, action, action.RequestedBy, string(StateExpired), content)
}

func (m *Manager) recordEpisode(ctx context.Context, action Action, userID, outcome, content string) {
	_, err := m.recorder.RecordEpisode(ctx, memory.Episode{
		UserID:    userID,
		TenantID:  action.TenantID,
		SessionID: action.SessionID,
		Kind:      memory.EpisodeGateDecision,
		Content:   content,
		Metadata: map[string]string{
			"action_id":    action.ID,
			"action_type":  string(action.Type),
			"outcome":      outcome,
			"requested_by": action.RequestedBy,
			"tool":         action.ToolName,
		},
	})
	if err != nil {
		// The episodic tier fails open; an error here means even the
		// placeholder path was unavailable.
		m.logger.Warn(ctx, "failed to record gate episode",
			zap.String("action_id", action.ID),
			zap.Error(err),
		)
	}
}
