package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/routedesk/routing-engine/pkg/util/errorutil"
)

// Role is the caller's role within its tenant.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAgent   Role = "agent"
	RoleService Role = "service"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAgent, RoleService:
		return true
	}
	return false
}

// RequireRole ensures the principal has one of the allowed roles.
func RequireRole(allowed ...Role) fiber.Handler {
	allowedSet := make(map[Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
