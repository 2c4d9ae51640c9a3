package models

import "time"

const (
	AssignmentStatusActive  = "active"
	AssignmentStatusExpired = "expired"
)

// TariffAssignment records a paid activation period of a publication.
//
// ActiveSlot is true while the assignment is active and NULL afterwards. The
// unique index over (publication_id, active_slot) lets the database reject a
// second active assignment; NULLs never collide.
type TariffAssignment struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	PublicationID       uint           `gorm:"not null;uniqueIndex:ux_tariff_assignments_active_slot,priority:1" json:"publication_id"`
	TariffPlanID        uint           `gorm:"not null;index" json:"tariff_plan_id"`
	PricePaidMinorUnits int64          `gorm:"not null" json:"price_paid_minor_units"`
	VisibilityTier      VisibilityTier `gorm:"type:varchar(20);not null" json:"visibility_tier"`
	StartsAt            time.Time      `gorm:"type:datetime;not null" json:"starts_at"`
	EndsAt              time.Time      `gorm:"type:datetime;not null;index:idx_tariff_assignments_status_ends,priority:2" json:"ends_at"`
	Status              string         `gorm:"type:varchar(20);not null;index:idx_tariff_assignments_status_ends,priority:1" json:"status"`
	ActiveSlot          *bool          `gorm:"uniqueIndex:ux_tariff_assignments_active_slot,priority:2" json:"-"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// ActiveSlotValue returns a fresh pointer for ActiveSlot.
func ActiveSlotValue() *bool {
	v := true
	return &v
}

// NewActiveAssignment builds the active assignment for plan starting at now.
func NewActiveAssignment(publicationID uint, plan *TariffPlan, price int64, now time.Time) *TariffAssignment {
	return &TariffAssignment{
		PublicationID:       publicationID,
		TariffPlanID:        plan.ID,
		PricePaidMinorUnits: price,
		VisibilityTier:      plan.VisibilityTier,
		StartsAt:            now,
		EndsAt:              now.Add(plan.Duration()),
		Status:              AssignmentStatusActive,
		ActiveSlot:          ActiveSlotValue(),
	}
}

func (a *TariffAssignment) IsActive() bool {
	return a.Status == AssignmentStatusActive
}
