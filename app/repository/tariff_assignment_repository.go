package repository

import (
	"time"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"gorm.io/gorm"
)

type tariffAssignmentRepository struct {
	db *gorm.DB
}

// NewTariffAssignmentRepository creates a new tariff assignment repository instance
func NewTariffAssignmentRepository(db *gorm.DB) TariffAssignmentRepository {
	return &tariffAssignmentRepository{db: db}
}

func (r *tariffAssignmentRepository) Create(assignment *models.TariffAssignment) error {
	return r.db.Create(assignment).Error
}

func (r *tariffAssignmentRepository) GetActiveByPublication(publicationID uint) (*models.TariffAssignment, error) {
	var a models.TariffAssignment
	err := r.db.Where("publication_id = ? AND status = ?", publicationID, models.AssignmentStatusActive).First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *tariffAssignmentRepository) ListByPublication(publicationID uint) ([]models.TariffAssignment, error) {
	var list []models.TariffAssignment
	err := r.db.Where("publication_id = ?", publicationID).Order("starts_at DESC").Order("id DESC").Find(&list).Error
	return list, err
}

func (r *tariffAssignmentRepository) CountActiveByPublication(publicationID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.TariffAssignment{}).
		Where("publication_id = ? AND status = ?", publicationID, models.AssignmentStatusActive).
		Count(&count).Error
	return count, err
}

// expiredFields releases the active slot so a new active row can be inserted.
func expiredFields() map[string]interface{} {
	return map[string]interface{}{
		"status":      models.AssignmentStatusExpired,
		"active_slot": gorm.Expr("NULL"),
	}
}

// ExpireActiveByPublication ends the current active assignment early, if any.
// at is recorded as the new end when it precedes the planned end.
func (r *tariffAssignmentRepository) ExpireActiveByPublication(publicationID uint, at time.Time) (int64, error) {
	fields := expiredFields()
	fields["ends_at"] = gorm.Expr("CASE WHEN ends_at > ? THEN ? ELSE ends_at END", at, at)
	res := r.db.Model(&models.TariffAssignment{}).
		Where("publication_id = ? AND status = ?", publicationID, models.AssignmentStatusActive).
		Updates(fields)
	return res.RowsAffected, res.Error
}

// ExpireEnded expires every active assignment whose period is over.
func (r *tariffAssignmentRepository) ExpireEnded(now time.Time) (int64, error) {
	res := r.db.Model(&models.TariffAssignment{}).
		Where("status = ? AND ends_at <= ?", models.AssignmentStatusActive, now).
		Updates(expiredFields())
	return res.RowsAffected, res.Error
}
