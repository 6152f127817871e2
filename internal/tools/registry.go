package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stewardlabs/governd/internal/fault"
)

// ActionType classifies what kind of human decision a critical tool needs.
type ActionType string

const (
	ActionApproval             ActionType = "approval"
	ActionSignOff              ActionType = "sign-off"
	ActionMappingChange        ActionType = "mapping-change"
	ActionOwnershipChange      ActionType = "ownership-change"
	ActionControlEffectiveness ActionType = "control-effectiveness"
)

// CriticalSpec carries the human-gate metadata of a critical tool.
type CriticalSpec struct {
	// Action is the decision category shown to approvers.
	Action ActionType `json:"action"`

	// RequiredRole must be held by the decider.
	RequiredRole string `json:"required_role"`

	// ImpactTemplate describes the consequence of executing the tool,
	// with %s standing in for the target entity id.
	ImpactTemplate string `json:"impact_template"`
}

// Definition describes one governed tool.
type Definition struct {
	// Name is the unique tool name (e.g. "getReport").
	Name string `json:"name"`

	// Description is shown to the model and in approval requests.
	Description string `json:"description"`

	// Permission is the "entityType:action" grant required to invoke.
	Permission string `json:"permission"`

	// EntityType is the primary governed entity kind this tool touches.
	EntityType string `json:"entity_type"`

	// IDKeys are the parameter keys that carry entity ids.
	IDKeys []string `json:"id_keys,omitempty"`

	// Parameters is the JSON-schema fragment ("properties", "required")
	// advertised to the reasoning collaborator.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Validate checks the typed parameter shape. Nil means the tool
	// accepts its parameters unvalidated.
	Validate func(params map[string]any) error `json:"-"`

	// Critical is non-nil for tools that require a human gate.
	Critical *CriticalSpec `json:"critical,omitempty"`
}

// IsCritical reports whether the tool needs a human gate.
func (d *Definition) IsCritical() bool {
	return d != nil && d.Critical != nil
}

// Registry holds the static tool surface. Tools are registered at startup;
// lookups are concurrent-safe.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]*Definition),
	}
}

// Register adds a tool definition. Empty or nil definitions are ignored.
func (r *Registry) Register(def *Definition) {
	if def == nil || def.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
}

// RegisterAll adds multiple definitions.
func (r *Registry) RegisterAll(defs []*Definition) {
	for _, def := range defs {
		r.Register(def)
	}
}

// Get returns the definition for a tool name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// IsCritical reports whether a known tool needs a human gate. Unknown
// tools report false.
func (r *Registry) IsCritical(name string) bool {
	def, ok := r.Get(name)
	return ok && def.IsCritical()
}

// List returns all definitions sorted by name.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all registered tool names sorted.
func (r *Registry) Names() []string {
	defs := r.List()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// Default returns the registry pre-loaded with the platform tool surface.
func Default() *Registry {
	r := NewRegistry()
	r.RegisterAll([]*Definition{
		{
			Name:        "searchCatalog",
			Description: "Search the data catalog for datasets, reports, and glossary terms.",
			Permission:  "catalog:read",
			EntityType:  "term",
			IDKeys:      []string{"termId"},
			Parameters: stringParams(map[string]string{
				"query":      "Search text.",
				"entityType": "Optional filter: dataset, report, or term.",
			}, "query"),
			Validate: requireStrings("query"),
		},
		{
			Name:        "getReport",
			Description: "Fetch a governed report with its metadata and quality state.",
			Permission:  "report:read",
			EntityType:  "report",
			IDKeys:      []string{"reportId"},
			Parameters: stringParams(map[string]string{
				"reportId": "Report identifier.",
			}, "reportId"),
			Validate: requireStrings("reportId"),
		},
		{
			Name:        "getLineage",
			Description: "Trace upstream and downstream lineage for a dataset.",
			Permission:  "lineage:read",
			EntityType:  "dataset",
			IDKeys:      []string{"datasetId"},
			Parameters: stringParams(map[string]string{
				"datasetId": "Dataset identifier.",
				"direction": "Optional: upstream, downstream, or both.",
			}, "datasetId"),
			Validate: requireStrings("datasetId"),
		},
		{
			Name:        "listIssues",
			Description: "List open data-quality issues, optionally filtered by entity.",
			Permission:  "issue:read",
			EntityType:  "issue",
			IDKeys:      []string{"issueId", "datasetId", "reportId"},
			Parameters: stringParams(map[string]string{
				"datasetId": "Optional dataset filter.",
				"reportId":  "Optional report filter.",
				"status":    "Optional status filter: open, resolved, or all.",
			}),
		},
		{
			Name:        "createIssue",
			Description: "Open a data-quality issue against a governed entity.",
			Permission:  "issue:create",
			EntityType:  "issue",
			IDKeys:      []string{"datasetId", "reportId", "cdeId"},
			Parameters: stringParams(map[string]string{
				"title":       "Short issue title.",
				"description": "What is wrong and how it was observed.",
				"datasetId":   "Optional affected dataset.",
				"reportId":    "Optional affected report.",
				"cdeId":       "Optional affected critical data element.",
				"severity":    "Optional: low, medium, high, or critical.",
			}, "title", "description"),
			Validate: requireStrings("title", "description"),
		},
		{
			Name:        "listCDEs",
			Description: "List critical data elements and their certification state.",
			Permission:  "cde:read",
			EntityType:  "cde",
			IDKeys:      []string{"cdeId", "datasetId"},
			Parameters: stringParams(map[string]string{
				"datasetId": "Optional dataset filter.",
			}),
		},
		{
			Name:        "getCycleStatus",
			Description: "Report the attestation progress of a reporting cycle.",
			Permission:  "cycle:read",
			EntityType:  "cycle",
			IDKeys:      []string{"cycleId"},
			Parameters: stringParams(map[string]string{
				"cycleId": "Reporting cycle identifier.",
			}, "cycleId"),
			Validate: requireStrings("cycleId"),
		},
		{
			Name:        "approveCatalog",
			Description: "Approve a catalog entry for publication to consumers.",
			Permission:  "catalog:approve",
			EntityType:  "dataset",
			IDKeys:      []string{"datasetId"},
			Parameters: stringParams(map[string]string{
				"datasetId": "Catalog entry to approve.",
				"rationale": "Why the entry is ready for publication.",
			}, "datasetId"),
			Validate: requireStrings("datasetId"),
			Critical: &CriticalSpec{
				Action:         ActionApproval,
				RequiredRole:   "data-steward",
				ImpactTemplate: "Publishes catalog entry %s to all tenant consumers.",
			},
		},
		{
			Name:        "signOffCycle",
			Description: "Certify a reporting cycle as complete for submission.",
			Permission:  "cycle:signoff",
			EntityType:  "cycle",
			IDKeys:      []string{"cycleId"},
			Parameters: stringParams(map[string]string{
				"cycleId":   "Reporting cycle to certify.",
				"rationale": "Basis for the certification.",
			}, "cycleId"),
			Validate: requireStrings("cycleId"),
			Critical: &CriticalSpec{
				Action:         ActionSignOff,
				RequiredRole:   "cycle-owner",
				ImpactTemplate: "Certifies reporting cycle %s for regulatory submission.",
			},
		},
		{
			Name:        "updateMapping",
			Description: "Change a source-to-target data mapping.",
			Permission:  "mapping:update",
			EntityType:  "mapping",
			IDKeys:      []string{"mappingId"},
			Parameters: stringParams(map[string]string{
				"mappingId":   "Mapping to change.",
				"sourceField": "New source field.",
				"targetField": "New target field.",
				"rationale":   "Why the mapping must change.",
			}, "mappingId"),
			Validate: requireStrings("mappingId"),
			Critical: &CriticalSpec{
				Action:         ActionMappingChange,
				RequiredRole:   "data-steward",
				ImpactTemplate: "Alters lineage mapping %s used by downstream controls.",
			},
		},
		{
			Name:        "transferOwnership",
			Description: "Reassign ownership of a governed dataset.",
			Permission:  "ownership:transfer",
			EntityType:  "dataset",
			IDKeys:      []string{"datasetId"},
			Parameters: stringParams(map[string]string{
				"datasetId":  "Dataset changing hands.",
				"newOwnerId": "User taking ownership.",
				"rationale":  "Why ownership moves.",
			}, "datasetId", "newOwnerId"),
			Validate: requireStrings("datasetId", "newOwnerId"),
			Critical: &CriticalSpec{
				Action:         ActionOwnershipChange,
				RequiredRole:   "data-owner",
				ImpactTemplate: "Reassigns accountability for dataset %s.",
			},
		},
		{
			Name:        "assessControlEffectiveness",
			Description: "Record an effectiveness rating for a governance control.",
			Permission:  "control:assess",
			EntityType:  "control",
			IDKeys:      []string{"controlId"},
			Parameters: stringParams(map[string]string{
				"controlId": "Control under assessment.",
				"rating":    "Effectiveness rating: effective, partially-effective, or ineffective.",
				"rationale": "Evidence supporting the rating.",
			}, "controlId", "rating"),
			Validate: requireStrings("controlId", "rating"),
			Critical: &CriticalSpec{
				Action:         ActionControlEffectiveness,
				RequiredRole:   "control-assessor",
				ImpactTemplate: "Records an auditor-visible effectiveness rating for control %s.",
			},
		},
	})
	return r
}

// stringParams builds the schema fragment for a tool whose parameters
// are all strings. The props map pairs parameter names with their
// descriptions; required lists the mandatory subset.
func stringParams(props map[string]string, required ...string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, desc := range props {
		properties[name] = map[string]any{
			"type":        "string",
			"description": desc,
		}
	}
	schema := map[string]any{"properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// requireStrings validates that each key is present as a non-empty string.
func requireStrings(keys ...string) func(map[string]any) error {
	return func(params map[string]any) error {
		for _, key := range keys {
			v, ok := params[key]
			if !ok {
				return fault.New(fault.CodeValidation, fmt.Sprintf("parameter %q is required", key))
			}
			s, ok := v.(string)
			if !ok || s == "" {
				return fault.New(fault.CodeValidation, fmt.Sprintf("parameter %q must be a non-empty string", key))
			}
		}
		return nil
	}
}
