package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ServiceBoard/app/models"
)

// UserContext is the authenticated caller as supplied by the auth layer.
type UserContext struct {
	AccountID  uint   `json:"account_id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	IsBanned   bool   `json:"is_banned"`
	IsLoggedIn bool   `json:"is_logged_in"`
}

// FromAccount builds the context for an authenticated account.
func FromAccount(a *models.Account) UserContext {
	return UserContext{
		AccountID:  a.ID,
		Name:       a.Name,
		Role:       a.Role,
		IsBanned:   a.IsBanned,
		IsLoggedIn: true,
	}
}

func (u UserContext) IsOperator() bool {
	return u.IsLoggedIn && u.Role == models.RoleOperator
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{}
}

// SetUserContext stores uc on the request.
func SetUserContext(c *fiber.Ctx, uc UserContext) {
	c.Locals(KeyUserContext, uc)
	c.Locals(KeyAccountID, uc.AccountID)
	c.Locals(KeyRole, uc.Role)
}

// IsLoggedIn checks if the current caller is authenticated
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// IsOperator checks if the current caller is an operator
func IsOperator(c *fiber.Ctx) bool {
	return GetUserContext(c).IsOperator()
}

// GetAccountID returns the current account ID, or 0 if anonymous
func GetAccountID(c *fiber.Ctx) uint {
	return GetUserContext(c).AccountID
}
