package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ServiceBoard/app/controllers"
	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/usercontext"
)

// Authenticator resolves a raw API key to its account.
type Authenticator interface {
	Authenticate(ctx context.Context, rawKey string) (*models.Account, error)
}

// APIKeyAuth fills the user context from an X-API-Key or Bearer header.
// Requests without a key continue anonymously; an invalid key is rejected.
// Banned accounts authenticate but carry IsBanned.
func APIKeyAuth(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			usercontext.SetUserContext(c, usercontext.UserContext{})
			return c.Next()
		}

		account, err := auth.Authenticate(c.UserContext(), apiKey)
		if err != nil {
			return controllers.RespondError(c, err)
		}

		usercontext.SetUserContext(c, usercontext.FromAccount(account))
		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RequireAccount rejects anonymous callers with 401.
func RequireAccount(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return controllers.RespondError(c, apperr.ErrUnauthorized)
	}
	return c.Next()
}

// RequireOperator rejects callers without the operator role.
func RequireOperator(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return controllers.RespondError(c, apperr.ErrUnauthorized)
	}
	if !usercontext.IsOperator(c) {
		return controllers.RespondError(c, apperr.New(apperr.CodeForbidden, "operator role required"))
	}
	return c.Next()
}
