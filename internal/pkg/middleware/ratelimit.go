package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ServiceBoard/app/controllers"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/ratelimit"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/usercontext"
)

// RateLimit counts one hit of action per request, keyed by the account or,
// for anonymous callers, by client IP. rule is read on every request so
// setting changes apply immediately.
func RateLimit(limiter *ratelimit.Limiter, action string, rule func() ratelimit.Rule) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := limiter.Allow(c.UserContext(), action, actorKey(c), rule()); err != nil {
			return controllers.RespondError(c, err)
		}
		return c.Next()
	}
}

func actorKey(c *fiber.Ctx) string {
	if id := usercontext.GetAccountID(c); id != 0 {
		return "account:" + strconv.FormatUint(uint64(id), 10)
	}
	return "ip:" + controllers.GetClientIP(c)
}
