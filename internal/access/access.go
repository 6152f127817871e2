// Package access evaluates permission grants and data scopes.
//
// Permissions are "entityType:action" strings. A grant matches exactly,
// by a "category:*" wildcard, or by the global "*:*" or "admin" override.
// Data scopes narrow which entity ids a grant may touch; denials win over
// allowances.
package access

import "strings"

// UserPermissions is the access-control input attached to every request.
type UserPermissions struct {
	UserID      string      `json:"user_id"`
	TenantID    string      `json:"tenant_id"`
	Permissions []string    `json:"permissions"`
	DataScopes  []DataScope `json:"data_scopes,omitempty"`
}

// DataScope restricts one entity type to explicit id sets. An empty
// AllowedIDs list means all ids of that type, minus DeniedIDs.
type DataScope struct {
	EntityType string   `json:"entity_type"`
	AllowedIDs []string `json:"allowed_ids,omitempty"`
	DeniedIDs  []string `json:"denied_ids,omitempty"`
}

// HasPermission reports whether perms grant the required
// "entityType:action" pair.
func HasPermission(perms []string, required string) bool {
	if required == "" {
		return false
	}

	category, _, scoped := strings.Cut(required, ":")
	for _, p := range perms {
		switch p {
		case required, "*:*", "admin":
			return true
		}
		if scoped && p == category+":*" {
			return true
		}
	}
	return false
}

// Can reports whether the user holds the required permission.
func (u UserPermissions) Can(required string) bool {
	return HasPermission(u.Permissions, required)
}

// AllowsEntity reports whether the scopes permit touching one entity id.
// Entity types without a scope are unrestricted.
func AllowsEntity(scopes []DataScope, entityType, id string) bool {
	for _, scope := range scopes {
		if scope.EntityType != entityType {
			continue
		}
		for _, denied := range scope.DeniedIDs {
			if denied == id {
				return false
			}
		}
		if len(scope.AllowedIDs) == 0 {
			return true
		}
		for _, allowed := range scope.AllowedIDs {
			if allowed == id {
				return true
			}
		}
		return false
	}
	return true
}

// FilterEntities splits ids into granted and denied per the scopes,
// preserving input order.
func FilterEntities(scopes []DataScope, entityType string, ids []string) (granted, denied []string) {
	for _, id := range ids {
		if AllowsEntity(scopes, entityType, id) {
			granted = append(granted, id)
		} else {
			denied = append(denied, id)
		}
	}
	return granted, denied
}
