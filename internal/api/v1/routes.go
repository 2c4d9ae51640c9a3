package apiv1

import (
	"github.com/gofiber/fiber/v2"
)

// Guards are the middlewares applied per route group.
type Guards struct {
	Account  fiber.Handler
	Operator fiber.Handler
	// Respond throttles publication responses; nil disables it.
	Respond fiber.Handler
}

func passThrough(c *fiber.Ctx) error { return c.Next() }

// RegisterHandlers mounts every v1 route on router. Authentication must
// already have run so the user context is set.
func RegisterHandlers(router fiber.Router, s *APIServer, g Guards) {
	if g.Respond == nil {
		g.Respond = passThrough
	}

	router.Get("/ping", s.GetPing)

	// public reads
	router.Get("/tariffs", s.Tariffs.HandleListActive)
	router.Get("/publications", s.Publications.HandleListPublic)

	auth := g.Account
	router.Get("/account", auth, s.Accounts.HandleProfile)
	router.Get("/account/balance-entries", auth, s.Accounts.HandleBalanceEntries)
	router.Post("/account/api-key", auth, s.Accounts.HandleRotateAPIKey)
	router.Get("/notifications", auth, s.Accounts.HandleNotifications)
	router.Post("/notifications/:id/read", auth, s.Accounts.HandleNotificationRead)

	// /publications/mine must be registered before /publications/:uuid
	router.Post("/publications", auth, s.Publications.HandleCreate)
	router.Get("/publications/mine", auth, s.Publications.HandleListMine)
	router.Get("/publications/:uuid", s.Publications.HandleGet)
	router.Post("/publications/:uuid/activate", auth, s.Publications.HandleActivate)
	router.Post("/publications/:uuid/pause", auth, s.Publications.HandlePause)
	router.Post("/publications/:uuid/complete", auth, s.Publications.HandleComplete)
	router.Get("/publications/:uuid/assignments", auth, s.Publications.HandleAssignments)
	router.Post("/publications/:uuid/responses", auth, g.Respond, s.Publications.HandleRespond)
	router.Get("/publications/:uuid/responses", auth, s.Publications.HandleListResponses)

	router.Post("/topups", auth, s.TopUps.HandleCreate)
	router.Get("/topups", auth, s.TopUps.HandleListMine)
	router.Get("/topups/:id", auth, s.TopUps.HandleGet)
	router.Post("/topups/:id/attest", auth, s.TopUps.HandleAttest)

	admin := router.Group("/admin", g.Operator)
	admin.Get("/topups", s.TopUps.HandleAdminList)
	admin.Post("/topups/:id/approve", s.TopUps.HandleAdminApprove)
	admin.Post("/topups/:id/reject", s.TopUps.HandleAdminReject)

	admin.Get("/tariffs", s.Tariffs.HandleAdminList)
	admin.Post("/tariffs", s.Tariffs.HandleAdminCreate)
	admin.Put("/tariffs/:id", s.Tariffs.HandleAdminUpdate)
	admin.Post("/tariffs/:id/deactivate", s.Tariffs.HandleAdminDeactivate)
	admin.Post("/tariffs/:id/reactivate", s.Tariffs.HandleAdminReactivate)

	admin.Get("/accounts", s.Admin.HandleAccounts)
	admin.Post("/accounts", s.Admin.HandleAccountCreate)
	admin.Post("/accounts/:id/ban", s.Admin.HandleAccountBan)
	admin.Post("/accounts/:id/unban", s.Admin.HandleAccountUnban)
	admin.Post("/accounts/:id/credit", s.Admin.HandleAccountCredit)

	admin.Post("/sweep", s.Admin.HandleSweep)
	admin.Get("/settings", s.Admin.HandleSettings)
	admin.Put("/settings", s.Admin.HandleSettingsUpdate)
	admin.Get("/ratelimit", s.Admin.HandleRateLimitInspect)
	admin.Delete("/ratelimit", s.Admin.HandleRateLimitReset)
	admin.Post("/ratelimit/check", s.Admin.HandleRateLimitCheck)
	admin.Get("/queue", s.Admin.HandleQueueStats)
	admin.Get("/stats", s.Admin.HandleStats)
}
