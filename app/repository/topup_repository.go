package repository

import (
	"time"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"gorm.io/gorm"
)

type topUpRepository struct {
	db *gorm.DB
}

// NewTopUpRepository creates a new top-up repository instance
func NewTopUpRepository(db *gorm.DB) TopUpRepository {
	return &topUpRepository{db: db}
}

func (r *topUpRepository) Create(request *models.TopUpRequest) error {
	return r.db.Create(request).Error
}

func (r *topUpRepository) GetByID(id uint) (*models.TopUpRequest, error) {
	var req models.TopUpRequest
	if err := r.db.First(&req, id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *topUpRepository) LockByID(id uint) (*models.TopUpRequest, error) {
	var req models.TopUpRequest
	if err := forUpdate(r.db).First(&req, id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// UpdateIfPending applies fields only while the request is still pending.
// Returns false when another writer already moved it to a terminal state.
func (r *topUpRepository) UpdateIfPending(id uint, fields map[string]interface{}) (bool, error) {
	res := r.db.Model(&models.TopUpRequest{}).
		Where("id = ? AND status = ?", id, models.TopUpStatusPending).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *topUpRepository) ListByAccount(accountID uint, offset, limit int) ([]models.TopUpRequest, error) {
	var list []models.TopUpRequest
	q := r.db.Where("account_id = ?", accountID).Order("created_at DESC").Order("id DESC")
	err := paginate(q, offset, limit).Find(&list).Error
	return list, err
}

func (r *topUpRepository) CountByAccount(accountID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.TopUpRequest{}).Where("account_id = ?", accountID).Count(&count).Error
	return count, err
}

// ListByStatus lists requests with the given status; an empty status lists all.
// Pending requests come oldest first so operators work the queue in order.
func (r *topUpRepository) ListByStatus(status string, offset, limit int) ([]models.TopUpRequest, error) {
	var list []models.TopUpRequest
	q := r.db
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if status == models.TopUpStatusPending {
		q = q.Order("created_at ASC").Order("id ASC")
	} else {
		q = q.Order("created_at DESC").Order("id DESC")
	}
	err := paginate(q, offset, limit).Find(&list).Error
	return list, err
}

func (r *topUpRepository) CountByStatus(status string) (int64, error) {
	var count int64
	q := r.db.Model(&models.TopUpRequest{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&count).Error
	return count, err
}

// ExpirePending flips every pending request past its deadline to expired.
func (r *topUpRepository) ExpirePending(now time.Time) (int64, error) {
	res := r.db.Model(&models.TopUpRequest{}).
		Where("status = ? AND expires_at <= ?", models.TopUpStatusPending, now).
		Updates(map[string]interface{}{
			"status":      models.TopUpStatusExpired,
			"resolved_at": now,
		})
	return res.RowsAffected, res.Error
}
