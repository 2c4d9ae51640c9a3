package repository

import (
	"github.com/ManuelReschke/ServiceBoard/app/models"
	"gorm.io/gorm"
)

type tariffPlanRepository struct {
	db *gorm.DB
}

// NewTariffPlanRepository creates a new tariff plan repository instance
func NewTariffPlanRepository(db *gorm.DB) TariffPlanRepository {
	return &tariffPlanRepository{db: db}
}

func (r *tariffPlanRepository) Create(plan *models.TariffPlan) error {
	return r.db.Create(plan).Error
}

func (r *tariffPlanRepository) GetByID(id uint) (*models.TariffPlan, error) {
	var plan models.TariffPlan
	if err := r.db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// Update saves the descriptive and pricing fields. is_active is changed via SetActive only.
func (r *tariffPlanRepository) Update(plan *models.TariffPlan) error {
	res := r.db.Model(&models.TariffPlan{}).Where("id = ?", plan.ID).Updates(map[string]interface{}{
		"name":              plan.Name,
		"description":       plan.Description,
		"price_minor_units": plan.PriceMinorUnits,
		"discount_percent":  plan.DiscountPercent,
		"duration_days":     plan.DurationDays,
		"visibility_tier":   plan.VisibilityTier,
		"sort_order":        plan.SortOrder,
	})
	return checkAffected(r.db, &models.TariffPlan{}, plan.ID, res)
}

func (r *tariffPlanRepository) SetActive(id uint, active bool) error {
	res := r.db.Model(&models.TariffPlan{}).Where("id = ?", id).Update("is_active", active)
	return checkAffected(r.db, &models.TariffPlan{}, id, res)
}

// ListActive returns active plans ordered by sort order, then price.
func (r *tariffPlanRepository) ListActive() ([]models.TariffPlan, error) {
	var plans []models.TariffPlan
	err := r.db.Where("is_active = ?", true).
		Order("sort_order ASC").Order("price_minor_units ASC").Order("id ASC").
		Find(&plans).Error
	return plans, err
}

func (r *tariffPlanRepository) ListAll() ([]models.TariffPlan, error) {
	var plans []models.TariffPlan
	err := r.db.Order("sort_order ASC").Order("price_minor_units ASC").Order("id ASC").Find(&plans).Error
	return plans, err
}
