package tools

// idKeyEntityTypes maps id-bearing parameter keys to the entity type
// the id refers to.
var idKeyEntityTypes = map[string]string{
	"reportId":  "report",
	"datasetId": "dataset",
	"issueId":   "issue",
	"cdeId":     "cde",
	"cycleId":   "cycle",
	"mappingId": "mapping",
	"termId":    "term",
	"controlId": "control",
}

// EntityRef is one entity id extracted from tool parameters.
type EntityRef struct {
	EntityType string `json:"entity_type"`
	ID         string `json:"id"`
}

// EntityTypeForKey returns the entity type an id-bearing parameter key
// refers to, or "" for keys that do not carry ids.
func EntityTypeForKey(key string) string {
	return idKeyEntityTypes[key]
}

// ExtractEntities pulls the entity ids a tool call touches out of its
// parameters, for access-scope checks and audit records. The definition's
// IDKeys decide which parameters to inspect; each key's entity type comes
// from the shared id-key map, falling back to the definition's own
// EntityType for keys the map does not know.
func ExtractEntities(def *Definition, params map[string]any) []EntityRef {
	if def == nil || len(def.IDKeys) == 0 || len(params) == 0 {
		return nil
	}
	var refs []EntityRef
	for _, key := range def.IDKeys {
		raw, ok := params[key]
		if !ok {
			continue
		}
		entityType := idKeyEntityTypes[key]
		if entityType == "" {
			entityType = def.EntityType
		}
		for _, id := range stringValues(raw) {
			refs = append(refs, EntityRef{EntityType: entityType, ID: id})
		}
	}
	return refs
}

// stringValues flattens a parameter value into its string ids. Single
// strings, string slices, and decoded JSON arrays are supported; any
// other shape yields nothing.
func stringValues(raw any) []string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
