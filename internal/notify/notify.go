// Package notify publishes approval lifecycle events over NATS.
//
// Each gate action emits events on subjects:
//
//	approvals.{tenant_id}.{action_id}.created
//	approvals.{tenant_id}.{action_id}.decided
//	approvals.{tenant_id}.{action_id}.expired
//
// so approval UIs and ticketing bridges can subscribe per tenant or per
// action. Delivery is best effort: a failed publish is logged and
// dropped, never surfaced to the decision path.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/stewardlabs/governd/internal/gate"
	"github.com/stewardlabs/governd/internal/logging"
)

// ApprovalEvent is the wire payload for every approvals.* subject.
type ApprovalEvent struct {
	Event        string    `json:"event"`
	ActionID     string    `json:"action_id"`
	ActionType   string    `json:"action_type"`
	Title        string    `json:"title"`
	Impact       string    `json:"impact,omitempty"`
	RequiredRole string    `json:"required_role,omitempty"`
	EntityType   string    `json:"entity_type,omitempty"`
	EntityID     string    `json:"entity_id,omitempty"`
	ToolName     string    `json:"tool_name,omitempty"`
	RequestedBy  string    `json:"requested_by"`
	TenantID     string    `json:"tenant_id"`
	SessionID    string    `json:"session_id,omitempty"`
	Status       string    `json:"status"`
	ExpiresAt    time.Time `json:"expires_at"`

	// Decision fields are set on decided events only.
	Decision  string `json:"decision,omitempty"`
	DecidedBy string `json:"decided_by,omitempty"`
	Rationale string `json:"rationale,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// ApprovalPublisher implements gate.Notifier on a NATS connection.
type ApprovalPublisher struct {
	nats   *nats.Conn
	logger *logging.Logger
	now    func() time.Time
}

// NewApprovalPublisher creates the publisher over an established
// connection.
func NewApprovalPublisher(nc *nats.Conn, logger *logging.Logger) *ApprovalPublisher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ApprovalPublisher{
		nats:   nc,
		logger: logger,
		now:    time.Now,
	}
}

// ActionCreated implements gate.Notifier.
func (p *ApprovalPublisher) ActionCreated(ctx context.Context, action gate.Action) {
	p.publish(ctx, "created", action, nil)
}

// ActionDecided implements gate.Notifier.
func (p *ApprovalPublisher) ActionDecided(ctx context.Context, action gate.Action, result gate.Result) {
	p.publish(ctx, "decided", action, &result)
}

// ActionExpired implements gate.Notifier.
func (p *ApprovalPublisher) ActionExpired(ctx context.Context, action gate.Action) {
	p.publish(ctx, "expired", action, nil)
}

func (p *ApprovalPublisher) publish(ctx context.Context, event string, action gate.Action, result *gate.Result) {
	subject := fmt.Sprintf("approvals.%s.%s.%s", subjectToken(action.TenantID), subjectToken(action.ID), event)

	payload := ApprovalEvent{
		Event:        event,
		ActionID:     action.ID,
		ActionType:   string(action.Type),
		Title:        action.Title,
		Impact:       action.Impact,
		RequiredRole: action.RequiredRole,
		EntityType:   action.EntityType,
		EntityID:     action.EntityID,
		ToolName:     action.ToolName,
		RequestedBy:  action.RequestedBy,
		TenantID:     action.TenantID,
		SessionID:    action.SessionID,
		Status:       string(action.Status),
		ExpiresAt:    action.ExpiresAt,
		PublishedAt:  p.now().UTC(),
	}
	if result != nil {
		payload.Decision = string(result.Decision)
		payload.DecidedBy = result.DecidedBy
		payload.Rationale = result.Rationale
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error(ctx, "failed to encode approval event",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return
	}

	if err := p.nats.Publish(subject, data); err != nil {
		p.logger.Warn(ctx, "failed to publish approval event",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return
	}

	p.logger.Debug(ctx, "approval event published",
		zap.String("subject", subject),
		zap.String("event", event),
	)
}

// subjectToken makes an identifier safe for use inside a NATS subject.
func subjectToken(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '-'
		}
		return r
	}, s)
}
