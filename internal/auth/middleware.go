package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/routedesk/routing-engine/pkg/util/errorutil"
)

const (
	principalKey = "auth_principal"
	tenantKey    = "tenant_id"
)

// Principal represents the authenticated caller.
type Principal struct {
	TenantID string
	Subject  string
	Role     Role
}

// AuthMiddleware validates bearer tokens and establishes the tenant context.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes. No request proceeds without a tenant.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(strings.TrimSpace(parts[1]))
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}
	if strings.TrimSpace(claims.TenantID) == "" {
		return apperrors.NewTenantRequired()
	}
	if !claims.Role.Valid() {
		return apperrors.NewForbidden("unknown role")
	}

	principal := &Principal{TenantID: claims.TenantID, Subject: claims.Subject, Role: claims.Role}
	c.Locals(principalKey, principal)
	c.Locals(tenantKey, claims.TenantID)
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

// TenantFromContext returns the caller's tenant or a TENANT_REQUIRED error.
func TenantFromContext(c *fiber.Ctx) (string, error) {
	principal, ok := PrincipalFromContext(c)
	if !ok || principal.TenantID == "" {
		return "", apperrors.NewTenantRequired()
	}
	return principal.TenantID, nil
}
