package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/publication"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/usercontext"
)

// PublicationController exposes the publication lifecycle.
type PublicationController struct {
	publications *publication.Service
}

func NewPublicationController(publications *publication.Service) *PublicationController {
	return &PublicationController{publications: publications}
}

type activateRequest struct {
	TariffPlanID uint `json:"tariff_plan_id" validate:"required"`
}

type respondRequest struct {
	Message string `json:"message" validate:"max=2000"`
}

func (pc *PublicationController) HandleCreate(c *fiber.Ctx) error {
	var in publication.CreateInput
	if err := c.BodyParser(&in); err != nil {
		return RespondError(c, apperr.Wrap(apperr.CodeValidation, "malformed request body", err))
	}
	pub, err := pc.publications.Create(c.UserContext(), usercontext.GetUserContext(c), in)
	if err != nil {
		return RespondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(pub)
}

// HandleListPublic lists ACTIVE publications, ?kind=listing|job.
func (pc *PublicationController) HandleListPublic(c *fiber.Ctx) error {
	page, perPage := pageParams(c)
	res, err := pc.publications.ListPublic(c.UserContext(), c.Query("kind"), page, perPage)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(res)
}

func (pc *PublicationController) HandleListMine(c *fiber.Ctx) error {
	page, perPage := pageParams(c)
	res, err := pc.publications.ListMine(c.UserContext(), usercontext.GetUserContext(c), page, perPage)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(res)
}

func (pc *PublicationController) HandleGet(c *fiber.Ctx) error {
	pub, err := pc.publications.Get(c.UserContext(), usercontext.GetUserContext(c), c.Params("uuid"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(pub)
}

func (pc *PublicationController) HandleActivate(c *fiber.Ctx) error {
	var in activateRequest
	if err := parseBody(c, &in); err != nil {
		return RespondError(c, err)
	}
	pub, err := pc.publications.Activate(c.UserContext(), usercontext.GetUserContext(c), c.Params("uuid"), in.TariffPlanID)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(pub)
}

func (pc *PublicationController) HandlePause(c *fiber.Ctx) error {
	pub, err := pc.publications.Pause(c.UserContext(), usercontext.GetUserContext(c), c.Params("uuid"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(pub)
}

func (pc *PublicationController) HandleComplete(c *fiber.Ctx) error {
	pub, err := pc.publications.Complete(c.UserContext(), usercontext.GetUserContext(c), c.Params("uuid"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(pub)
}

// HandleAssignments returns the paid periods of a publication, newest first.
func (pc *PublicationController) HandleAssignments(c *fiber.Ctx) error {
	list, err := pc.publications.Assignments(c.UserContext(), usercontext.GetUserContext(c), c.Params("uuid"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"items": list})
}

func (pc *PublicationController) HandleRespond(c *fiber.Ctx) error {
	var in respondRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &in); err != nil {
			return RespondError(c, err)
		}
	}
	res, err := pc.publications.Respond(c.UserContext(), usercontext.GetUserContext(c), c.Params("uuid"), in.Message)
	if err != nil {
		return RespondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (pc *PublicationController) HandleListResponses(c *fiber.Ctx) error {
	list, err := pc.publications.ListResponses(c.UserContext(), usercontext.GetUserContext(c), c.Params("uuid"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"items": list})
}
