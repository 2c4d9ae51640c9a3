package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/ServiceBoard/app/controllers"
	apiv1 "github.com/ManuelReschke/ServiceBoard/internal/api/v1"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/middleware"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/ratelimit"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/statistics"
)

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	d := h.deps
	perMinute := d.APIRequestsPerMinute
	if perMinute <= 0 {
		perMinute = 120
	}

	// Coarse per-IP throttle in front of the whole API; business limits
	// live in the services.
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        perMinute,
		Expiration: time.Minute,
		Storage:    d.LimiterStorage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return controllers.GetClientIP(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return controllers.RespondError(c, apperr.RateLimited(time.Minute))
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "ServiceBoard API",
		})
	})

	stats := d.Stats
	if stats == nil {
		stats = statistics.New(d.Factory, false)
	}

	// API v1 routes
	v1 := api.Group("/v1", middleware.APIKeyAuth(d.Accounts))
	server := &apiv1.APIServer{
		Accounts:     controllers.NewAccountController(d.Accounts),
		Tariffs:      controllers.NewTariffController(d.Catalog),
		Publications: controllers.NewPublicationController(d.Publications),
		TopUps:       controllers.NewTopUpController(d.TopUps),
		Admin:        controllers.NewAdminController(d.Factory, d.Accounts, d.Sweeper, d.Limiter, d.Queue, stats),
	}

	guards := apiv1.Guards{
		Account:  middleware.RequireAccount,
		Operator: middleware.RequireOperator,
	}
	if d.RespondRule != nil {
		guards.Respond = middleware.RateLimit(d.Limiter, ratelimit.ActionPublicationRespond, d.RespondRule)
	}
	apiv1.RegisterHandlers(v1, server, guards)
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}
