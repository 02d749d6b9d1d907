package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/spec-kit/ticket-intake/pkg/util/errorutil"
)

const (
	principalKey   = "auth_principal"
	adminKeyHeader = "X-Admin-Key"
)

// Principal represents the authenticated transport.
type Principal struct {
	Transport string
	Scopes    []string
}

// AuthMiddleware validates bearer service tokens.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	c.Locals(principalKey, &Principal{Transport: claims.Transport, Scopes: claims.Scopes})
	return c.Next()
}

// RequireScope rejects principals whose token lacks scope.
func RequireScope(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		for _, s := range principal.Scopes {
			if s == scope {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "missing scope "+scope)
	}
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

// AdminKeyGuard checks the X-Admin-Key header against a bcrypt hash.
type AdminKeyGuard struct {
	hash []byte
}

// NewAdminKeyGuard builds a guard. An empty hash rejects every request.
func NewAdminKeyGuard(hash string) *AdminKeyGuard {
	return &AdminKeyGuard{hash: []byte(hash)}
}

// Handle enforces the admin key.
func (g *AdminKeyGuard) Handle(c *fiber.Ctx) error {
	if len(g.hash) == 0 {
		return apperrors.NewUnauthorized("admin endpoints are disabled")
	}
	key := c.Get(adminKeyHeader)
	if key == "" {
		return apperrors.NewUnauthorized("missing admin key")
	}
	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(key)); err != nil {
		return apperrors.NewUnauthorized("invalid admin key")
	}
	return c.Next()
}

// HashAdminKey hashes a plaintext admin key for ADMIN_KEY_HASH.
func HashAdminKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
