package repository

import (
	"github.com/ManuelReschke/ServiceBoard/app/models"
	"gorm.io/gorm"
)

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new notification repository instance
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(notification *models.Notification) error {
	return r.db.Create(notification).Error
}

func (r *notificationRepository) ListByAccount(accountID uint, unreadOnly bool, offset, limit int) ([]models.Notification, error) {
	var list []models.Notification
	q := r.db.Where("account_id = ?", accountID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	err := paginate(q.Order("id DESC"), offset, limit).Find(&list).Error
	return list, err
}

func (r *notificationRepository) CountUnread(accountID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Notification{}).
		Where("account_id = ? AND is_read = ?", accountID, false).
		Count(&count).Error
	return count, err
}

// MarkRead marks one notification of accountID as read. Returns false when
// it does not exist or belongs to someone else.
func (r *notificationRepository) MarkRead(id, accountID uint) (bool, error) {
	var n models.Notification
	if err := r.db.Where("id = ? AND account_id = ?", id, accountID).First(&n).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, err
	}
	if n.IsRead {
		return true, nil
	}
	return true, n.MarkAsRead(r.db)
}
