package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardlabs/governd/internal/audit"
	"github.com/stewardlabs/governd/internal/config"
	"github.com/stewardlabs/governd/internal/gate"
	"github.com/stewardlabs/governd/internal/gateway"
	"github.com/stewardlabs/governd/internal/memory"
	"github.com/stewardlabs/governd/internal/orchestrator"
	"github.com/stewardlabs/governd/internal/reasoner"
	"github.com/stewardlabs/governd/internal/tools"
)

type serverFixture struct {
	server  *Server
	manager *gate.Manager
	facade  *memory.Facade
}

func newServerFixture(t *testing.T, gateTTL time.Duration, replies ...reasoner.Reply) *serverFixture {
	t.Helper()

	facade := memory.New(memory.Config{}, memory.Backends{}, nil, nil)
	manager := gate.NewManager(gate.Config{TTL: gateTTL, FourEyes: true}, gate.NewMemoryStore(), facade, gate.NopNotifier{}, nil)
	auditLog := audit.NewLog(audit.NewMemoryStore(), nil)

	gw, err := gateway.New(nil, tools.UnconfiguredInvoker(), manager, auditLog, nil)
	require.NoError(t, err)
	manager.SetExecutor(gw)

	orch, err := orchestrator.New(orchestrator.Config{}, facade, gw, reasoner.NewScripted(replies...), nil, nil)
	require.NoError(t, err)

	srv, err := New(config.ServerConfig{
		Port:              8080,
		ShutdownTimeout:   config.Duration(5 * time.Second),
		HeartbeatInterval: config.Duration(15 * time.Second),
	}, Deps{
		Orchestrator: orch,
		Gate:         manager,
		Memory:       facade,
		Version:      "test",
	}, nil)
	require.NoError(t, err)

	return &serverFixture{server: srv, manager: manager, facade: facade}
}

func (f *serverFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Echo().ServeHTTP(rec, req)
	return rec
}

func authedRequest(method, target, body, userID, tenantID string, roles ...string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(headerUserID, userID)
	req.Header.Set(headerTenantID, tenantID)
	req.Header.Set(headerPermissions, "*:*")
	if len(roles) > 0 {
		req.Header.Set(headerRoles, strings.Join(roles, ","))
	}
	return req
}

func TestServer_Liveness(t *testing.T) {
	fx := newServerFixture(t, 24*time.Hour)

	rec := fx.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "governd", body["service"])
	assert.Equal(t, "test", body["version"])
}

func TestServer_HealthDetail(t *testing.T) {
	fx := newServerFixture(t, 24*time.Hour)

	rec := fx.do(httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Level string `json:"level"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "full", body.Level)
}

func TestServer_MemoryProbe(t *testing.T) {
	fx := newServerFixture(t, 24*time.Hour)

	rec := fx.do(httptest.NewRequest(http.MethodPost, "/v1/memory/probe", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Services map[string]string `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	for name, state := range body.Services {
		assert.Equal(t, "ok", state, name)
	}
}

func TestServer_ChatRequiresIdentity(t *testing.T) {
	fx := newServerFixture(t, 24*time.Hour, reasoner.Reply{Text: "hi"})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := fx.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "AUTHORIZATION")
}

func TestServer_ChatBadBody(t *testing.T) {
	fx := newServerFixture(t, 24*time.Hour, reasoner.Reply{Text: "hi"})

	rec := fx.do(authedRequest(http.MethodPost, "/v1/chat", `{"message":`, "alice", "acme"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION")
}

func TestServer_ChatStreamsSSE(t *testing.T) {
	fx := newServerFixture(t, 24*time.Hour, reasoner.Reply{Text: "The ledger feeds it."})

	rec := fx.do(authedRequest(http.MethodPost, "/v1/chat",
		`{"session_id":"sess-1","message":"Where does revenue come from?"}`, "alice", "acme"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	body := rec.Body.String()
	assert.Contains(t, body, "event: text\n")
	assert.Contains(t, body, "The ledger feeds it.")
	assert.Contains(t, body, `"complete":true`)

	// The turn persisted its session server-side.
	session, err := fx.facade.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Len(t, session.Messages, 2)
}

func TestServer_ApprovalsLifecycle(t *testing.T) {
	fx := newServerFixture(t, 24*time.Hour)

	action, err := fx.manager.CreateAction(context.Background(), gate.CreateRequest{
		Type:         tools.ActionSignOff,
		Title:        "signOffCycle q2-2025",
		Impact:       "Certifies reporting cycle q2-2025 for regulatory submission.",
		RequiredRole: "cycle-owner",
		RequestedBy:  "alice",
		TenantID:     "acme",
	})
	require.NoError(t, err)

	// The requesting tenant sees it; another tenant does not.
	rec := fx.do(authedRequest(http.MethodGet, "/v1/approvals", "", "bob", "acme"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), action.ID)
	assert.NotContains(t, rec.Body.String(), "requester_permissions")

	rec = fx.do(authedRequest(http.MethodGet, "/v1/approvals", "", "eve", "globex"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), action.ID)

	rec = fx.do(authedRequest(http.MethodGet, "/v1/approvals/"+action.ID, "", "eve", "globex"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A decider with the required role approves.
	rec = fx.do(authedRequest(http.MethodPost, "/v1/approvals/"+action.ID+"/decision",
		`{"decision":"approved","rationale":"numbers reconciled"}`, "bob", "acme", "cycle-owner"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"decision":"approved"`)

	// Repeat decisions conflict.
	rec = fx.do(authedRequest(http.MethodPost, "/v1/approvals/"+action.ID+"/decision",
		`{"decision":"rejected"}`, "carol", "acme", "cycle-owner"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "CONFLICT")

	// The action now reads with its result attached.
	rec = fx.do(authedRequest(http.MethodGet, "/v1/approvals/"+action.ID, "", "bob", "acme"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"approved"`)
	assert.Contains(t, rec.Body.String(), `"decided_by":"bob"`)
}

func TestServer_DecisionMissingRole(t *testing.T) {
	fx := newServerFixture(t, 24*time.Hour)

	action, err := fx.manager.CreateAction(context.Background(), gate.CreateRequest{
		Type:         tools.ActionSignOff,
		Title:        "signOffCycle q2-2025",
		RequiredRole: "cycle-owner",
		RequestedBy:  "alice",
		TenantID:     "acme",
	})
	require.NoError(t, err)

	rec := fx.do(authedRequest(http.MethodPost, "/v1/approvals/"+action.ID+"/decision",
		`{"decision":"approved"}`, "bob", "acme"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "AUTHORIZATION")
}

func TestServer_UnknownApproval(t *testing.T) {
	fx := newServerFixture(t, 24*time.Hour)

	rec := fx.do(authedRequest(http.MethodGet, "/v1/approvals/nope", "", "bob", "acme"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestServer_ExpireSweep(t *testing.T) {
	fx := newServerFixture(t, time.Nanosecond)

	_, err := fx.manager.CreateAction(context.Background(), gate.CreateRequest{
		Type:        tools.ActionApproval,
		Title:       "approveCatalog asset-1",
		RequestedBy: "alice",
		TenantID:    "acme",
	})
	require.NoError(t, err)

	rec := fx.do(authedRequest(http.MethodPost, "/v1/approvals/expire", "", "ops", "acme"))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Expired int      `json:"expired"`
		IDs     []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Expired)
	assert.Len(t, body.IDs, 1)
}
