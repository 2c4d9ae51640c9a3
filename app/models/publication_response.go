package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	ResponseStatusPending  = "pending"
	ResponseStatusAccepted = "accepted"
	ResponseStatusDeclined = "declined"
	ResponseStatusClosed   = "closed"
)

// PublicationResponse is an application to a job or an inquiry on a listing.
type PublicationResponse struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	PublicationID uint      `gorm:"not null;uniqueIndex:ux_publication_responses_pub_account,priority:1;index" json:"publication_id"`
	AccountID     uint      `gorm:"not null;uniqueIndex:ux_publication_responses_pub_account,priority:2" json:"account_id"`
	Message       string    `gorm:"type:text" json:"message" validate:"required,min=1,max=2000"`
	Status        string    `gorm:"type:varchar(20);not null;index" json:"status"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *PublicationResponse) Validate() error {
	v := validator.New()

	return v.Struct(r)
}
