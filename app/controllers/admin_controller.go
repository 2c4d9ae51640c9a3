package controllers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/account"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/ratelimit"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/statistics"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/sweep"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/usercontext"
)

// AdminController handles the operator console API
type AdminController struct {
	factory  *repository.Factory
	accounts *account.Service
	sweeper  *sweep.Sweeper
	limiter  *ratelimit.Limiter
	queue    *jobqueue.Queue
	stats    *statistics.Service
}

// NewAdminController creates the operator controller. A nil queue disables
// the queue statistics endpoint.
func NewAdminController(factory *repository.Factory, accounts *account.Service, sweeper *sweep.Sweeper, limiter *ratelimit.Limiter, queue *jobqueue.Queue, stats *statistics.Service) *AdminController {
	return &AdminController{
		factory:  factory,
		accounts: accounts,
		sweeper:  sweeper,
		limiter:  limiter,
		queue:    queue,
		stats:    stats,
	}
}

// HandleStats returns the dashboard snapshot. ?fresh=1 bypasses the cache.
func (ac *AdminController) HandleStats(c *fiber.Ctx) error {
	if c.QueryBool("fresh") {
		ac.stats.ResetCacheUpdateTimer()
	}
	snap, err := ac.stats.Get(c.UserContext())
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(snap)
}

type creditRequest struct {
	AmountMinorUnits int64 `json:"amount_minor_units" validate:"gt=0"`
}

type rateLimitCheckRequest struct {
	Action   string `json:"action" validate:"required,max=100"`
	ActorKey string `json:"actor_key" validate:"required,max=191"`
	Limit    int    `json:"limit" validate:"gte=0"`
	WindowMs int64  `json:"window_ms" validate:"gt=0,lte=2592000000"`
}

// HandleAccounts lists accounts
func (ac *AdminController) HandleAccounts(c *fiber.Ctx) error {
	page, perPage := pageParams(c)
	list, total, err := ac.accounts.List(c.UserContext(), usercontext.GetUserContext(c), page, perPage)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"items": list, "total": total})
}

// HandleAccountCreate registers an account and returns its API key once
func (ac *AdminController) HandleAccountCreate(c *fiber.Ctx) error {
	var in account.RegisterInput
	if err := c.BodyParser(&in); err != nil {
		return RespondError(c, apperr.Wrap(apperr.CodeValidation, "malformed request body", err))
	}
	acc, raw, err := ac.accounts.Register(c.UserContext(), usercontext.GetUserContext(c), in)
	if err != nil {
		return RespondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"account": accountJSON(acc),
		"api_key": raw,
	})
}

func (ac *AdminController) HandleAccountBan(c *fiber.Ctx) error {
	return ac.setBanned(c, true)
}

func (ac *AdminController) HandleAccountUnban(c *fiber.Ctx) error {
	return ac.setBanned(c, false)
}

func (ac *AdminController) setBanned(c *fiber.Ctx, banned bool) error {
	id, err := idParam(c, "id")
	if err != nil {
		return RespondError(c, err)
	}
	acc, err := ac.accounts.SetBanned(c.UserContext(), usercontext.GetUserContext(c), id, banned)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(accountJSON(acc))
}

// HandleAccountCredit adds a manual credit to an account
func (ac *AdminController) HandleAccountCredit(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return RespondError(c, err)
	}
	var in creditRequest
	if err := parseBody(c, &in); err != nil {
		return RespondError(c, err)
	}
	balance, err := ac.accounts.Credit(c.UserContext(), usercontext.GetUserContext(c), id, in.AmountMinorUnits)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"account_id": id, "balance_minor_units": balance})
}

// HandleSweep runs the expiration sweep now and returns the counts
func (ac *AdminController) HandleSweep(c *fiber.Ctx) error {
	res, err := ac.sweeper.Manual(c.UserContext())
	if err != nil {
		return RespondError(c, err)
	}
	log.Infof("[Admin] Operator %d ran a manual sweep: %+v", usercontext.GetAccountID(c), res)
	return c.JSON(res)
}

// HandleSettings returns the current marketplace settings
func (ac *AdminController) HandleSettings(c *fiber.Ctx) error {
	return c.JSON(models.GetAppSettings())
}

// HandleSettingsUpdate validates and persists new settings. Omitted fields
// keep their current value.
func (ac *AdminController) HandleSettingsUpdate(c *fiber.Ctx) error {
	settings := models.GetAppSettings()
	if err := c.BodyParser(settings); err != nil {
		return RespondError(c, apperr.Wrap(apperr.CodeValidation, "malformed request body", err))
	}
	settings.Currency = strings.ToUpper(strings.TrimSpace(settings.Currency))
	if err := settings.Validate(); err != nil {
		return RespondError(c, apperr.Wrap(apperr.CodeValidation, validationMessage(err), err))
	}
	if err := ac.factory.WithContext(c.UserContext()).Setting.Save(settings); err != nil {
		return RespondError(c, err)
	}
	log.Infof("[Admin] Operator %d updated settings", usercontext.GetAccountID(c))
	return c.JSON(models.GetAppSettings())
}

// HandleRateLimitInspect shows the current window of ?action=&key=
func (ac *AdminController) HandleRateLimitInspect(c *fiber.Ctx) error {
	action, key := c.Query("action"), c.Query("key")
	if action == "" || key == "" {
		return RespondError(c, apperr.Validation("action and key are required"))
	}
	w, ok, err := ac.limiter.Inspect(c.UserContext(), action, key)
	if err != nil {
		return RespondError(c, err)
	}
	if !ok {
		return c.JSON(fiber.Map{"action": action, "key": key, "active": false})
	}
	return c.JSON(fiber.Map{
		"action":    action,
		"key":       key,
		"active":    true,
		"hits":      w.Hits,
		"starts_at": w.Start.UTC().Format(time.RFC3339),
		"ends_at":   w.End.UTC().Format(time.RFC3339),
	})
}

// HandleRateLimitReset drops the window of ?action=&key=
func (ac *AdminController) HandleRateLimitReset(c *fiber.Ctx) error {
	action, key := c.Query("action"), c.Query("key")
	if action == "" || key == "" {
		return RespondError(c, apperr.Validation("action and key are required"))
	}
	if err := ac.limiter.Reset(c.UserContext(), action, key); err != nil {
		return RespondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleRateLimitCheck counts one hit against an arbitrary limit, for
// callers outside this service that share the limiter.
func (ac *AdminController) HandleRateLimitCheck(c *fiber.Ctx) error {
	var in rateLimitCheckRequest
	if err := parseBody(c, &in); err != nil {
		return RespondError(c, err)
	}
	res, err := ac.limiter.Check(c.UserContext(), in.Action, in.ActorKey, in.Limit, time.Duration(in.WindowMs)*time.Millisecond)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":                  res.OK,
		"limit":               res.Limit,
		"remaining":           res.Remaining,
		"retry_after_seconds": res.RetryAfterSeconds(),
	})
}

// HandleQueueStats reports background job counters
func (ac *AdminController) HandleQueueStats(c *fiber.Ctx) error {
	if ac.queue == nil {
		return c.JSON(fiber.Map{"enabled": false})
	}
	ctx := c.UserContext()
	stats, err := ac.queue.GetJobStats(ctx)
	if err != nil {
		return RespondError(c, err)
	}
	pending, err := ac.queue.GetQueueSize(ctx)
	if err != nil {
		return RespondError(c, err)
	}
	processing, err := ac.queue.GetProcessingSize(ctx)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{
		"enabled":    true,
		"pending":    pending,
		"processing": processing,
		"totals":     stats,
	})
}
