package models

import "time"

const (
	TopUpStatusPending  = "pending"
	TopUpStatusApproved = "approved"
	TopUpStatusRejected = "rejected"
	TopUpStatusExpired  = "expired"
)

// TopUpRequest is a manual request to credit an account after an offline payment.
type TopUpRequest struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	AccountID        uint       `gorm:"not null;index" json:"account_id"`
	AmountMinorUnits int64      `gorm:"not null" json:"amount_minor_units" validate:"gt=0"`
	Currency         string     `gorm:"type:varchar(3);not null" json:"currency"`
	Status           string     `gorm:"type:varchar(20);not null;index:idx_topup_requests_status_expires,priority:1" json:"status"`
	ExpiresAt        time.Time  `gorm:"type:datetime;not null;index:idx_topup_requests_status_expires,priority:2" json:"expires_at"`
	ProofText        string     `gorm:"type:text" json:"proof_text,omitempty"`
	AttestedAt       *time.Time `gorm:"type:timestamp;default:null" json:"attested_at,omitempty"`
	OperatorNote     string     `gorm:"type:text" json:"operator_note,omitempty"`
	ApproverID       *uint      `gorm:"default:null" json:"approver_id,omitempty"`
	ResolvedAt       *time.Time `gorm:"type:timestamp;default:null" json:"resolved_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the request can no longer change state.
func (r *TopUpRequest) IsTerminal() bool {
	switch r.Status {
	case TopUpStatusApproved, TopUpStatusRejected, TopUpStatusExpired:
		return true
	default:
		return false
	}
}

func (r *TopUpRequest) IsPending() bool {
	return r.Status == TopUpStatusPending
}

// IsExpiredAt reports whether the deadline has passed at now.
func (r *TopUpRequest) IsExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
