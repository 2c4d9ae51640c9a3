package models

import "time"

const (
	BalanceReasonActivation     = "activation"
	BalanceReasonTopUp          = "topup"
	BalanceReasonOperatorCredit = "operator_credit"
)

// BalanceEntry is an append-only audit row written for every ledger movement.
type BalanceEntry struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	AccountID              uint      `gorm:"not null;index:idx_balance_entries_account_created,priority:1" json:"account_id"`
	DeltaMinorUnits        int64     `gorm:"not null" json:"delta_minor_units"`
	BalanceAfterMinorUnits int64     `gorm:"not null" json:"balance_after_minor_units"`
	Reason                 string    `gorm:"type:varchar(32);not null" json:"reason"`
	ReferenceType          string    `gorm:"type:varchar(32)" json:"reference_type,omitempty"`
	ReferenceID            uint      `json:"reference_id,omitempty"`
	CreatedAt              time.Time `gorm:"autoCreateTime;index:idx_balance_entries_account_created,priority:2" json:"created_at"`
}
