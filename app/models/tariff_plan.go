package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// VisibilityTier ranks how prominently a paid publication is shown.
type VisibilityTier string

const (
	TierBasic   VisibilityTier = "basic"
	TierPremium VisibilityTier = "premium"
	TierGold    VisibilityTier = "gold"
)

// Rank orders tiers basic < premium < gold. Unknown tiers rank lowest.
func (t VisibilityTier) Rank() int {
	switch t {
	case TierBasic:
		return 1
	case TierPremium:
		return 2
	case TierGold:
		return 3
	default:
		return 0
	}
}

// TariffPlan is a catalog entry. Plans are never deleted, only deactivated.
type TariffPlan struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Name            string         `gorm:"type:varchar(100);not null" json:"name" validate:"required,min=2,max=100"`
	Description     string         `gorm:"type:text" json:"description" validate:"max=1000"`
	PriceMinorUnits int64          `gorm:"not null" json:"price_minor_units" validate:"gte=0,lte=100000000000"`
	DiscountPercent int            `gorm:"not null;default:0" json:"discount_percent" validate:"gte=0,lte=100"`
	DurationDays    int            `gorm:"not null" json:"duration_days" validate:"gt=0,lte=3650"`
	VisibilityTier  VisibilityTier `gorm:"type:varchar(20);not null" json:"visibility_tier" validate:"oneof=basic premium gold"`
	IsActive        bool           `gorm:"not null;index:idx_tariff_plans_active_order,priority:1" json:"is_active"`
	SortOrder       int            `gorm:"not null;default:0;index:idx_tariff_plans_active_order,priority:2" json:"sort_order"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *TariffPlan) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// EffectivePrice applies the discount and rounds down to whole minor units.
func (p *TariffPlan) EffectivePrice() int64 {
	return p.PriceMinorUnits * int64(100-p.DiscountPercent) / 100
}

// Duration returns the activation period granted by the plan.
func (p *TariffPlan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}
