package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/account"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/usercontext"
)

// AccountController serves the authenticated account's own data.
type AccountController struct {
	accounts *account.Service
}

func NewAccountController(accounts *account.Service) *AccountController {
	return &AccountController{accounts: accounts}
}

func accountJSON(a *models.Account) fiber.Map {
	return fiber.Map{
		"id":                   a.ID,
		"name":                 a.Name,
		"email":                a.Email,
		"role":                 a.Role,
		"balance_minor_units":  a.BalanceMinorUnits,
		"currency":             models.GetAppSettings().Currency,
		"is_banned":            a.IsBanned,
		"api_key_prefix":       a.APIKeyPrefix,
		"api_key_last_used_at": formatTimePtr(a.APIKeyLastUsedAt),
		"created_at":           a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// HandleProfile returns profile and balance.
func (ac *AccountController) HandleProfile(c *fiber.Ctx) error {
	acc, err := ac.accounts.Profile(c.UserContext(), usercontext.GetUserContext(c))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(accountJSON(acc))
}

// HandleBalanceEntries returns the ledger history.
func (ac *AccountController) HandleBalanceEntries(c *fiber.Ctx) error {
	page, perPage := pageParams(c)
	entries, page, perPage, err := ac.accounts.BalanceEntries(c.UserContext(), usercontext.GetUserContext(c), page, perPage)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"items": entries, "page": page, "per_page": perPage})
}

// HandleRotateAPIKey issues a new key and returns it once.
func (ac *AccountController) HandleRotateAPIKey(c *fiber.Ctx) error {
	raw, err := ac.accounts.RotateAPIKey(c.UserContext(), usercontext.GetUserContext(c))
	if err != nil {
		return RespondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"api_key": raw})
}

// HandleNotifications lists notifications; ?unread=true filters unread ones.
func (ac *AccountController) HandleNotifications(c *fiber.Ctx) error {
	page, perPage := pageParams(c)
	list, unread, err := ac.accounts.Notifications(c.UserContext(), usercontext.GetUserContext(c), c.QueryBool("unread", false), page, perPage)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"items": list, "unread": unread})
}

// HandleNotificationRead marks a notification as read.
func (ac *AccountController) HandleNotificationRead(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return RespondError(c, err)
	}
	if err := ac.accounts.MarkNotificationRead(c.UserContext(), usercontext.GetUserContext(c), id); err != nil {
		return RespondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
