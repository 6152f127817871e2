package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/stewardlabs/governd/internal/access"
	"github.com/stewardlabs/governd/internal/fault"
	"github.com/stewardlabs/governd/internal/logging"
	"github.com/stewardlabs/governd/internal/tools"
)

// Identity headers set by the platform's edge. Permissions and roles
// are comma-separated; data scopes are a JSON array of scope objects.
const (
	headerUserID      = "X-User-ID"
	headerTenantID    = "X-Tenant-ID"
	headerPermissions = "X-Permissions"
	headerRoles       = "X-Roles"
	headerDataScopes  = "X-Data-Scopes"
)

const identityKey = "governd.identity"

// identity is the caller extracted from request headers.
type identity struct {
	Execution tools.ExecutionContext
	Roles     []string
}

// requestContextMiddleware threads the echo request id into the logging
// context so every log line of a request carries it.
func requestContextMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = c.Request().Header.Get(echo.HeaderXRequestID)
			}
			if requestID != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))
			}
			return next(c)
		}
	}
}

// identityMiddleware extracts the caller identity. Requests without a
// user and tenant are rejected; this layer trusts the headers and does
// no authentication of its own.
func identityMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := strings.TrimSpace(c.Request().Header.Get(headerUserID))
			tenantID := strings.TrimSpace(c.Request().Header.Get(headerTenantID))
			if userID == "" || tenantID == "" {
				return c.JSON(http.StatusUnauthorized, errorEnvelope{Error: errorBody{
					Code:    string(fault.CodeAuthorization),
					Message: "X-User-ID and X-Tenant-ID headers are required",
				}})
			}

			scopes, err := parseDataScopes(c.Request().Header.Get(headerDataScopes))
			if err != nil {
				return c.JSON(http.StatusBadRequest, errorEnvelope{Error: errorBody{
					Code:    string(fault.CodeValidation),
					Message: "X-Data-Scopes must be a JSON array of scopes",
				}})
			}

			ident := identity{
				Execution: tools.ExecutionContext{
					UserID:      userID,
					TenantID:    tenantID,
					AccessToken: bearerToken(c.Request().Header.Get(echo.HeaderAuthorization)),
					Permissions: access.UserPermissions{
						UserID:      userID,
						TenantID:    tenantID,
						Permissions: splitHeaderList(c.Request().Header.Get(headerPermissions)),
						DataScopes:  scopes,
					},
					RequireHumanApproval: true,
				},
				Roles: splitHeaderList(c.Request().Header.Get(headerRoles)),
			}
			c.Set(identityKey, ident)

			req := c.Request()
			ctx := logging.WithUserID(req.Context(), userID)
			ctx = logging.WithTenantID(ctx, tenantID)
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

func identityFrom(c echo.Context) identity {
	ident, _ := c.Get(identityKey).(identity)
	return ident
}

func splitHeaderList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseDataScopes(raw string) ([]access.DataScope, error) {
	if raw == "" {
		return nil, nil
	}
	var scopes []access.DataScope
	if err := json.Unmarshal([]byte(raw), &scopes); err != nil {
		return nil, err
	}
	return scopes, nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
