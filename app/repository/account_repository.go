package repository

import (
	"strings"
	"time"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"gorm.io/gorm"
)

// accountRepository implements the AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

// Create creates a new account in the database
func (r *accountRepository) Create(account *models.Account) error {
	return r.db.Create(account).Error
}

// GetByID retrieves an account by its ID
func (r *accountRepository) GetByID(id uint) (*models.Account, error) {
	var account models.Account
	if err := r.db.First(&account, id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// LockByID loads the account and holds its row lock until the transaction ends.
func (r *accountRepository) LockByID(id uint) (*models.Account, error) {
	var account models.Account
	if err := forUpdate(r.db).First(&account, id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByEmail retrieves an account by its email address
func (r *accountRepository) GetByEmail(email string) (*models.Account, error) {
	var account models.Account
	if err := r.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByAPIKeyHash resolves an API key hash to its account.
func (r *accountRepository) GetByAPIKeyHash(hash string) (*models.Account, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var account models.Account
	if err := r.db.Where("api_key_hash = ? AND api_key_hash <> ''", trimmed).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) List(offset, limit int) ([]models.Account, error) {
	var accounts []models.Account
	err := paginate(r.db.Order("id ASC"), offset, limit).Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Account{}).Count(&count).Error
	return count, err
}

// SetBanned flips the ban flag. Unbanning clears banned_at.
func (r *accountRepository) SetBanned(id uint, banned bool, at time.Time) error {
	updates := map[string]interface{}{"is_banned": banned, "banned_at": nil}
	if banned {
		updates["banned_at"] = at
	}
	res := r.db.Model(&models.Account{}).Where("id = ?", id).Updates(updates)
	return checkAffected(r.db, &models.Account{}, id, res)
}

func (r *accountRepository) TouchAPIKeyUsage(id uint, at time.Time) error {
	return r.db.Model(&models.Account{}).Where("id = ?", id).UpdateColumn("api_key_last_used_at", at).Error
}

// SaveAPIKey persists the key material set by Account.IssueAPIKey.
func (r *accountRepository) SaveAPIKey(account *models.Account) error {
	res := r.db.Model(&models.Account{}).Where("id = ?", account.ID).Updates(map[string]interface{}{
		"api_key_hash":         account.APIKeyHash,
		"api_key_prefix":       account.APIKeyPrefix,
		"api_key_created_at":   account.APIKeyCreatedAt,
		"api_key_last_used_at": account.APIKeyLastUsedAt,
	})
	return checkAffected(r.db, &models.Account{}, account.ID, res)
}

// DebitIfSufficient subtracts amount only when the balance covers it. The
// guard lives in the WHERE clause so a stale read can never push the balance
// below zero. Returns false when the balance was too low.
func (r *accountRepository) DebitIfSufficient(id uint, amount int64) (bool, error) {
	res := r.db.Model(&models.Account{}).
		Where("id = ? AND balance_minor_units >= ?", id, amount).
		UpdateColumn("balance_minor_units", gorm.Expr("balance_minor_units - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Credit adds amount to the balance.
func (r *accountRepository) Credit(id uint, amount int64) error {
	res := r.db.Model(&models.Account{}).
		Where("id = ?", id).
		UpdateColumn("balance_minor_units", gorm.Expr("balance_minor_units + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
