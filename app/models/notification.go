package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	NotificationPublicationActivated = "publication_activated"
	NotificationPublicationResponse  = "publication_response"
	NotificationTopUpApproved        = "topup_approved"
	NotificationTopUpRejected        = "topup_rejected"
)

// Notification is an in-app message for an account.
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID uint      `gorm:"not null;index:idx_notifications_account_read,priority:1" json:"account_id"`
	Type      string    `gorm:"type:varchar(50);not null" json:"type"`
	Title     string    `gorm:"type:varchar(200)" json:"title"`
	Body      string    `gorm:"type:text" json:"body"`
	Link      string    `gorm:"type:varchar(255)" json:"link,omitempty"`
	IsRead    bool      `gorm:"not null;default:false;index:idx_notifications_account_read,priority:2" json:"is_read"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// MarkAsRead flags the notification as read
func (n *Notification) MarkAsRead(db *gorm.DB) error {
	n.IsRead = true
	return db.Model(n).Update("is_read", true).Error
}
