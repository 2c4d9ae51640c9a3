package repository

import (
	"github.com/ManuelReschke/ServiceBoard/app/models"
	"gorm.io/gorm"
)

type responseRepository struct {
	db *gorm.DB
}

// NewResponseRepository creates a new publication response repository instance
func NewResponseRepository(db *gorm.DB) ResponseRepository {
	return &responseRepository{db: db}
}

func (r *responseRepository) Create(response *models.PublicationResponse) error {
	return r.db.Create(response).Error
}

func (r *responseRepository) Exists(publicationID, accountID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.PublicationResponse{}).
		Where("publication_id = ? AND account_id = ?", publicationID, accountID).
		Count(&count).Error
	return count > 0, err
}

func (r *responseRepository) ListByPublication(publicationID uint) ([]models.PublicationResponse, error) {
	var list []models.PublicationResponse
	err := r.db.Where("publication_id = ?", publicationID).Order("created_at ASC").Order("id ASC").Find(&list).Error
	return list, err
}

// CloseOpenByPublication closes every pending response of a publication.
func (r *responseRepository) CloseOpenByPublication(publicationID uint) (int64, error) {
	res := r.db.Model(&models.PublicationResponse{}).
		Where("publication_id = ? AND status = ?", publicationID, models.ResponseStatusPending).
		Update("status", models.ResponseStatusClosed)
	return res.RowsAffected, res.Error
}
