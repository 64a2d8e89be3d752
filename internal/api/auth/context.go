package auth

import (
	"github.com/labstack/echo/v4"
)

// ContextKey represents keys for context values
type ContextKey string

// PrincipalContextKey holds the authenticated *Principal
const PrincipalContextKey ContextKey = "principal"

// Principal is the authenticated caller of a request
type Principal struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// IsAdmin reports whether the caller holds the global admin role
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// PrincipalFromContext returns the principal set by RequireAuth
func PrincipalFromContext(c echo.Context) (*Principal, bool) {
	p, ok := c.Get(string(PrincipalContextKey)).(*Principal)
	return p, ok && p != nil
}
