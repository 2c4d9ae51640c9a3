package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/ManuelReschke/ServiceBoard/internal/pkg/metrics/prom"
)

// HttpRouter serves the operational endpoints outside the API
type HttpRouter struct {
	deps Deps
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	d := h.deps

	app.Get("/healthz", h.handleHealth)

	if d.MetricsUser == "" {
		log.Warn("[Router] METRICS_USER not set, /metrics and /monitor are disabled")
		return
	}
	ops := basicauth.New(basicauth.Config{
		Users: map[string]string{
			d.MetricsUser: d.MetricsPassword,
		},
	})
	app.Get("/metrics", ops, adaptor.HTTPHandler(prom.Handler()))
	app.Get("/monitor", ops, monitor.New(monitor.Config{Title: "ServiceBoard Monitor"}))
}

// handleHealth reports database and cache reachability
func (h HttpRouter) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.Map{"database": "ok", "cache": "disabled"}
	healthy := true

	if h.deps.Factory == nil {
		status["database"] = "missing"
		healthy = false
	} else if sqlDB, err := h.deps.Factory.DB().DB(); err != nil {
		status["database"] = err.Error()
		healthy = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		status["database"] = err.Error()
		healthy = false
	}

	if h.deps.Redis != nil {
		status["cache"] = "ok"
		if err := h.deps.Redis.Ping(ctx).Err(); err != nil {
			// The cache is optional; report but stay healthy.
			status["cache"] = err.Error()
		}
	}

	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(status)
	}
	return c.JSON(status)
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}
