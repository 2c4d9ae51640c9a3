package repository

import (
	"github.com/ManuelReschke/ServiceBoard/app/models"
	"gorm.io/gorm"
)

type balanceEntryRepository struct {
	db *gorm.DB
}

// NewBalanceEntryRepository creates a new balance entry repository instance
func NewBalanceEntryRepository(db *gorm.DB) BalanceEntryRepository {
	return &balanceEntryRepository{db: db}
}

func (r *balanceEntryRepository) Create(entry *models.BalanceEntry) error {
	return r.db.Create(entry).Error
}

func (r *balanceEntryRepository) ListByAccount(accountID uint, offset, limit int) ([]models.BalanceEntry, error) {
	var list []models.BalanceEntry
	q := r.db.Where("account_id = ?", accountID).Order("id DESC")
	err := paginate(q, offset, limit).Find(&list).Error
	return list, err
}

// SumByAccount returns the sum of all deltas, which equals the balance when
// every movement went through the ledger.
func (r *balanceEntryRepository) SumByAccount(accountID uint) (int64, error) {
	var sum int64
	err := r.db.Model(&models.BalanceEntry{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(delta_minor_units), 0)").
		Scan(&sum).Error
	return sum, err
}
