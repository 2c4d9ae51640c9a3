package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ServiceBoard/internal/pkg/topup"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/usercontext"
)

// TopUpController exposes the manual top-up workflow.
type TopUpController struct {
	topups *topup.Service
}

func NewTopUpController(topups *topup.Service) *TopUpController {
	return &TopUpController{topups: topups}
}

type createTopUpRequest struct {
	AmountMinorUnits int64 `json:"amount_minor_units"`
}

type attestRequest struct {
	ProofText string `json:"proof_text" validate:"max=2000"`
}

type resolveRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

func (tc *TopUpController) HandleCreate(c *fiber.Ctx) error {
	var in createTopUpRequest
	if err := parseBody(c, &in); err != nil {
		return RespondError(c, err)
	}
	req, err := tc.topups.Create(c.UserContext(), usercontext.GetUserContext(c), in.AmountMinorUnits)
	if err != nil {
		return RespondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

func (tc *TopUpController) HandleListMine(c *fiber.Ctx) error {
	page, perPage := pageParams(c)
	res, err := tc.topups.ListMine(c.UserContext(), usercontext.GetUserContext(c), page, perPage)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(res)
}

func (tc *TopUpController) HandleGet(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return RespondError(c, err)
	}
	req, err := tc.topups.Get(c.UserContext(), usercontext.GetUserContext(c), id)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(req)
}

func (tc *TopUpController) HandleAttest(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return RespondError(c, err)
	}
	var in attestRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &in); err != nil {
			return RespondError(c, err)
		}
	}
	req, err := tc.topups.AttestPayment(c.UserContext(), usercontext.GetUserContext(c), id, in.ProofText)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(req)
}

// HandleAdminList lists requests for operators, ?status= filters.
func (tc *TopUpController) HandleAdminList(c *fiber.Ctx) error {
	page, perPage := pageParams(c)
	res, err := tc.topups.ListAll(c.UserContext(), usercontext.GetUserContext(c), c.Query("status"), page, perPage)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(res)
}

func (tc *TopUpController) HandleAdminApprove(c *fiber.Ctx) error {
	return tc.resolve(c, true)
}

func (tc *TopUpController) HandleAdminReject(c *fiber.Ctx) error {
	return tc.resolve(c, false)
}

func (tc *TopUpController) resolve(c *fiber.Ctx, approve bool) error {
	id, err := idParam(c, "id")
	if err != nil {
		return RespondError(c, err)
	}
	var in resolveRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &in); err != nil {
			return RespondError(c, err)
		}
	}
	uc := usercontext.GetUserContext(c)
	if approve {
		req, err := tc.topups.Approve(c.UserContext(), uc, id, in.Note)
		if err != nil {
			return RespondError(c, err)
		}
		return c.JSON(req)
	}
	req, err := tc.topups.Reject(c.UserContext(), uc, id, in.Note)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(req)
}
