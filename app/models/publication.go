package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PublicationKindListing = "listing"
	PublicationKindJob     = "job"

	PublicationStatusActive    = "active"
	PublicationStatusPaused    = "paused"
	PublicationStatusCompleted = "completed"
)

// Publication is a time-limited listing or job owned by an account.
type Publication struct {
	ID          uint       `gorm:"primaryKey" json:"-"`
	UUID        string     `gorm:"type:char(36);uniqueIndex;not null" json:"uuid"`
	OwnerID     uint       `gorm:"not null;index" json:"owner_id"`
	Kind        string     `gorm:"type:varchar(20);not null;index:idx_publications_status_kind,priority:2" json:"kind" validate:"oneof=listing job"`
	Title       string     `gorm:"type:varchar(200);not null" json:"title" validate:"required,min=3,max=200"`
	Description string     `gorm:"type:text" json:"description" validate:"max=5000"`
	Status      string     `gorm:"type:varchar(20);not null;index:idx_publications_status_kind,priority:1;index:idx_publications_status_expires,priority:1" json:"status" validate:"oneof=active paused completed"`
	ExpiresAt   *time.Time `gorm:"type:datetime;default:null;index:idx_publications_status_expires,priority:2" json:"expires_at"`
	CompletedAt *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	ViewCount   int64      `gorm:"not null;default:0" json:"view_count"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the public identifier.
func (p *Publication) BeforeCreate(tx *gorm.DB) error {
	if p.UUID == "" {
		p.UUID = uuid.New().String()
	}
	return nil
}

func (p *Publication) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// IsOwnedBy reports whether accountID owns the publication.
func (p *Publication) IsOwnedBy(accountID uint) bool {
	return p != nil && p.OwnerID == accountID
}

func (p *Publication) IsCompleted() bool {
	return p.Status == PublicationStatusCompleted
}

// IsLiveAt reports whether the publication is active and not yet past its deadline.
func (p *Publication) IsLiveAt(now time.Time) bool {
	return p.Status == PublicationStatusActive && p.ExpiresAt != nil && now.Before(*p.ExpiresAt)
}
