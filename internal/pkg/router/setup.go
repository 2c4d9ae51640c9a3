package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/account"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/publication"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/ratelimit"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/statistics"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/sweep"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/tariff"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/topup"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps carries the services the routes are served from.
type Deps struct {
	Factory      *repository.Factory
	Accounts     *account.Service
	Catalog      *tariff.Catalog
	Publications *publication.Service
	TopUps       *topup.Service
	Sweeper      *sweep.Sweeper
	Limiter      *ratelimit.Limiter
	// Queue is optional; nil hides queue statistics.
	Queue *jobqueue.Queue
	// Stats is optional; nil computes uncached snapshots.
	Stats *statistics.Service
	// Redis is optional and only used for health reporting.
	Redis *redis.Client

	// LimiterStorage backs the per-IP API limiter; nil keeps it in memory.
	LimiterStorage       fiber.Storage
	APIRequestsPerMinute int
	// RespondRule limits publication responses per account; nil disables it.
	RespondRule func() ratelimit.Rule

	MetricsUser     string
	MetricsPassword string
}

func InstallRouter(app *fiber.App, deps Deps) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
