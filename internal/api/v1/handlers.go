package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to controllers to keep response shapes consistent
	"github.com/ManuelReschke/ServiceBoard/app/controllers"
)

// APIServer groups the controllers served under /api/v1
type APIServer struct {
	Accounts     *controllers.AccountController
	Tariffs      *controllers.TariffController
	Publications *controllers.PublicationController
	TopUps       *controllers.TopUpController
	Admin        *controllers.AdminController
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// Pong is the ping response body
type Pong struct {
	Ping string `json:"ping"`
}
