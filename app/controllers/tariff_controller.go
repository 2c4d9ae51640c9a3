package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/tariff"
)

// TariffController serves the public catalog and its operator maintenance.
type TariffController struct {
	catalog *tariff.Catalog
}

func NewTariffController(catalog *tariff.Catalog) *TariffController {
	return &TariffController{catalog: catalog}
}

type tariffView struct {
	models.TariffPlan
	EffectivePriceMinorUnits int64 `json:"effective_price_minor_units"`
}

func tariffViews(plans []models.TariffPlan) []tariffView {
	out := make([]tariffView, 0, len(plans))
	for i := range plans {
		out = append(out, tariffView{TariffPlan: plans[i], EffectivePriceMinorUnits: tariff.EffectivePrice(&plans[i])})
	}
	return out
}

// HandleListActive returns purchasable plans with their effective price.
func (tc *TariffController) HandleListActive(c *fiber.Ctx) error {
	plans, err := tc.catalog.ListActive(c.UserContext())
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"items": tariffViews(plans), "currency": models.GetAppSettings().Currency})
}

// HandleAdminList returns every plan including inactive ones.
func (tc *TariffController) HandleAdminList(c *fiber.Ctx) error {
	plans, err := tc.catalog.ListAll(c.UserContext())
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"items": tariffViews(plans)})
}

func (tc *TariffController) HandleAdminCreate(c *fiber.Ctx) error {
	var in tariff.PlanInput
	if err := parseBody(c, &in); err != nil {
		return RespondError(c, err)
	}
	plan, err := tc.catalog.Create(c.UserContext(), in)
	if err != nil {
		return RespondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(tariffViews([]models.TariffPlan{*plan})[0])
}

func (tc *TariffController) HandleAdminUpdate(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return RespondError(c, err)
	}
	var in tariff.PlanInput
	if err := parseBody(c, &in); err != nil {
		return RespondError(c, err)
	}
	plan, err := tc.catalog.Update(c.UserContext(), id, in)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(tariffViews([]models.TariffPlan{*plan})[0])
}

func (tc *TariffController) HandleAdminDeactivate(c *fiber.Ctx) error {
	return tc.setActive(c, false)
}

func (tc *TariffController) HandleAdminReactivate(c *fiber.Ctx) error {
	return tc.setActive(c, true)
}

func (tc *TariffController) setActive(c *fiber.Ctx, active bool) error {
	id, err := idParam(c, "id")
	if err != nil {
		return RespondError(c, err)
	}
	var plan *models.TariffPlan
	if active {
		plan, err = tc.catalog.Reactivate(c.UserContext(), id)
	} else {
		plan, err = tc.catalog.Deactivate(c.UserContext(), id)
	}
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(tariffViews([]models.TariffPlan{*plan})[0])
}
