package auth

import (
	"errors"
	"strings"

	"cms-backend/internal/models"
	"cms-backend/internal/rbac"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const CtxActorKey = "actor"

// JWTMiddleware verifies the bearer token and loads the acting user. The user
// is re-read on every request so role changes, deactivation and lineage take
// effect immediately.
func JWTMiddleware(tokens TokenIssuer, db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing Authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return fiber.NewError(fiber.StatusUnauthorized, "Authorization must be 'Bearer <token>'")
		}

		claims, err := tokens.Verify(parts[1])
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
		}

		var user models.User
		if err := db.WithContext(c.UserContext()).First(&user, "id = ?", claims.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
			}
			return fiber.NewError(fiber.StatusServiceUnavailable, "could not load user")
		}
		if !user.IsActive {
			return fiber.NewError(fiber.StatusUnauthorized, "account is deactivated")
		}

		c.Locals(CtxActorKey, &user)
		return c.Next()
	}
}

// Actor returns the user loaded by JWTMiddleware.
func Actor(c *fiber.Ctx) (*models.User, error) {
	u, ok := c.Locals(CtxActorKey).(*models.User)
	if !ok || u == nil {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	return u, nil
}

func RequireRole(allowedRoles ...models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := Actor(c)
		if err != nil {
			return err
		}
		if err := rbac.RequireAny(actor, allowedRoles...); err != nil {
			return err
		}
		return c.Next()
	}
}
