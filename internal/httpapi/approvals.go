package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/stewardlabs/governd/internal/fault"
	"github.com/stewardlabs/governd/internal/gate"
	"github.com/stewardlabs/governd/internal/tools"
)

// approvalView is the wire form of a gate action. The requester's
// permission snapshot stays internal.
type approvalView struct {
	ID           string           `json:"id"`
	Type         tools.ActionType `json:"type"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	Impact       string           `json:"impact,omitempty"`
	RequiredRole string           `json:"required_role,omitempty"`
	EntityType   string           `json:"entity_type,omitempty"`
	EntityID     string           `json:"entity_id,omitempty"`
	Proposed     map[string]any   `json:"proposed,omitempty"`
	Rationale    string           `json:"rationale,omitempty"`
	ToolName     string           `json:"tool_name,omitempty"`
	RequestedBy  string           `json:"requested_by"`
	TenantID     string           `json:"tenant_id"`
	SessionID    string           `json:"session_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
	Status       gate.State       `json:"status"`
}

func viewOf(action gate.Action) approvalView {
	return approvalView{
		ID:           action.ID,
		Type:         action.Type,
		Title:        action.Title,
		Description:  action.Description,
		Impact:       action.Impact,
		RequiredRole: action.RequiredRole,
		EntityType:   action.EntityType,
		EntityID:     action.EntityID,
		Proposed:     action.Proposed,
		Rationale:    action.Rationale,
		ToolName:     action.ToolName,
		RequestedBy:  action.RequestedBy,
		TenantID:     action.TenantID,
		SessionID:    action.SessionID,
		CreatedAt:    action.CreatedAt,
		ExpiresAt:    action.ExpiresAt,
		Status:       action.Status,
	}
}

// handleListApprovals returns the caller tenant's pending actions,
// oldest first.
func (s *Server) handleListApprovals(c echo.Context) error {
	ident := identityFrom(c)
	ctx := c.Request().Context()

	actions, err := s.deps.Gate.PendingActions(ctx, ident.Execution.TenantID)
	if err != nil {
		return s.writeError(c, err)
	}
	views := make([]approvalView, 0, len(actions))
	for _, action := range actions {
		views = append(views, viewOf(action))
	}
	return c.JSON(http.StatusOK, map[string]any{"actions": views})
}

// handleGetApproval returns one action with its decision when taken.
// Actions of other tenants read as not found.
func (s *Server) handleGetApproval(c echo.Context) error {
	ident := identityFrom(c)
	ctx := c.Request().Context()
	id := c.Param("id")

	action, err := s.deps.Gate.Action(ctx, id)
	if err != nil {
		return s.writeError(c, err)
	}
	if action.TenantID != ident.Execution.TenantID {
		return s.writeError(c, fault.New(fault.CodeNotFound, "action "+id+" not found"))
	}

	body := map[string]any{"action": viewOf(action)}
	if result, err := s.deps.Gate.Result(ctx, id); err == nil {
		body["result"] = result
	}
	return c.JSON(http.StatusOK, body)
}

// decisionRequest is the POST /v1/approvals/:id/decision body.
type decisionRequest struct {
	Decision  string `json:"decision"`
	Rationale string `json:"rationale"`
	Signature string `json:"signature"`
}

// handleDecision applies a human verdict. The decider is the
// authenticated caller; roles come from the identity headers.
func (s *Server) handleDecision(c echo.Context) error {
	ident := identityFrom(c)
	ctx := c.Request().Context()
	id := c.Param("id")

	var req decisionRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, fault.New(fault.CodeValidation, "request body must be JSON"))
	}

	action, err := s.deps.Gate.Action(ctx, id)
	if err != nil {
		return s.writeError(c, err)
	}
	if action.TenantID != ident.Execution.TenantID {
		return s.writeError(c, fault.New(fault.CodeNotFound, "action "+id+" not found"))
	}

	result, err := s.deps.Gate.ProcessDecision(ctx, gate.DecisionRequest{
		ActionID:     id,
		Decision:     gate.Decision(req.Decision),
		Rationale:    req.Rationale,
		DecidedBy:    ident.Execution.UserID,
		DeciderRoles: ident.Roles,
		Signature:    req.Signature,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"result": result})
}

// handleExpire sweeps lapsed pending actions across tenants. Expiry is
// caller-driven; this is the endpoint schedulers hit.
func (s *Server) handleExpire(c echo.Context) error {
	ctx := c.Request().Context()

	expired, err := s.deps.Gate.ExpirePending(ctx)
	if err != nil {
		return s.writeError(c, err)
	}
	ids := make([]string, 0, len(expired))
	for _, action := range expired {
		ids = append(ids, action.ID)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"expired": len(ids),
		"ids":     ids,
	})
}
