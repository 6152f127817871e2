package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardlabs/governd/internal/fault"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&Definition{Name: "getReport", Permission: "report:read"})

	def, ok := r.Get("getReport")
	require.True(t, ok)
	assert.Equal(t, "report:read", def.Permission)

	_, ok = r.Get("unknownTool")
	assert.False(t, ok)
}

func TestRegistry_IgnoresEmptyDefinitions(t *testing.T) {
	r := NewRegistry()
	r.Register(nil)
	r.Register(&Definition{Name: ""})

	assert.Empty(t, r.List())
}

func TestRegistry_ListSortedByName(t *testing.T) {
	r := NewRegistry()
	r.RegisterAll([]*Definition{
		{Name: "signOffCycle"},
		{Name: "getReport"},
		{Name: "listIssues"},
	})

	assert.Equal(t, []string{"getReport", "listIssues", "signOffCycle"}, r.Names())
}

func TestRegistry_IsCritical(t *testing.T) {
	r := Default()

	assert.False(t, r.IsCritical("getReport"))
	assert.False(t, r.IsCritical("searchCatalog"))
	assert.False(t, r.IsCritical("unknownTool"))
	assert.True(t, r.IsCritical("approveCatalog"))
	assert.True(t, r.IsCritical("signOffCycle"))
	assert.True(t, r.IsCritical("updateMapping"))
	assert.True(t, r.IsCritical("transferOwnership"))
	assert.True(t, r.IsCritical("assessControlEffectiveness"))
}

func TestDefault_ToolSurface(t *testing.T) {
	r := Default()

	assert.Len(t, r.List(), 12)

	tests := []struct {
		name       string
		permission string
		action     ActionType
		role       string
	}{
		{"approveCatalog", "catalog:approve", ActionApproval, "data-steward"},
		{"signOffCycle", "cycle:signoff", ActionSignOff, "cycle-owner"},
		{"updateMapping", "mapping:update", ActionMappingChange, "data-steward"},
		{"transferOwnership", "ownership:transfer", ActionOwnershipChange, "data-owner"},
		{"assessControlEffectiveness", "control:assess", ActionControlEffectiveness, "control-assessor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, ok := r.Get(tt.name)
			require.True(t, ok)
			require.NotNil(t, def.Critical)
			assert.Equal(t, tt.permission, def.Permission)
			assert.Equal(t, tt.action, def.Critical.Action)
			assert.Equal(t, tt.role, def.Critical.RequiredRole)
			assert.NotEmpty(t, def.Critical.ImpactTemplate)
		})
	}
}

func TestDefault_RoutineToolsHaveNoGate(t *testing.T) {
	r := Default()

	routine := []string{
		"searchCatalog", "getReport", "getLineage", "listIssues",
		"createIssue", "listCDEs", "getCycleStatus",
	}
	for _, name := range routine {
		def, ok := r.Get(name)
		require.True(t, ok, name)
		assert.Nil(t, def.Critical, name)
		assert.NotEmpty(t, def.Permission, name)
	}
}

func TestDefinition_Validate(t *testing.T) {
	r := Default()
	def, ok := r.Get("getReport")
	require.True(t, ok)
	require.NotNil(t, def.Validate)

	err := def.Validate(map[string]any{"reportId": "rpt-001"})
	assert.NoError(t, err)

	err = def.Validate(map[string]any{})
	require.Error(t, err)
	assert.Equal(t, fault.CodeValidation, fault.CodeOf(err))

	err = def.Validate(map[string]any{"reportId": 42})
	require.Error(t, err)
	assert.Equal(t, fault.CodeValidation, fault.CodeOf(err))

	err = def.Validate(map[string]any{"reportId": ""})
	assert.Error(t, err)
}

func TestDefinition_IsCriticalNilSafe(t *testing.T) {
	var def *Definition
	assert.False(t, def.IsCritical())
	assert.False(t, (&Definition{Name: "x"}).IsCritical())
}
