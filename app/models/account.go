package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	RoleProvider  = "provider"
	RoleRequester = "requester"
	RoleOperator  = "operator"
)

// Account is a marketplace participant holding a spendable balance.
// The balance is mutated only by the ledger.
type Account struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Name              string     `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Email             string     `gorm:"type:varchar(200);uniqueIndex;not null" json:"email" validate:"required,email,max=200"`
	Role              string     `gorm:"type:varchar(20);not null;index" json:"role" validate:"oneof=provider requester operator"`
	BalanceMinorUnits int64      `gorm:"not null;default:0" json:"balance_minor_units" validate:"gte=0"`
	IsBanned          bool       `gorm:"not null;default:false" json:"is_banned"`
	BannedAt          *time.Time `gorm:"type:timestamp;default:null" json:"banned_at,omitempty"`
	APIKeyHash        string     `gorm:"type:char(64);index;default:''" json:"-"`
	APIKeyPrefix      string     `gorm:"type:varchar(20);default:''" json:"api_key_prefix"`
	APIKeyCreatedAt   *time.Time `gorm:"type:timestamp;default:null" json:"api_key_created_at,omitempty"`
	APIKeyLastUsedAt  *time.Time `gorm:"type:timestamp;default:null" json:"api_key_last_used_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *Account) Validate() error {
	v := validator.New()

	return v.Struct(a)
}

// IsOperator reports whether the account may run back-office actions.
func (a *Account) IsOperator() bool {
	return a != nil && a.Role == RoleOperator
}

// CanPublish reports whether the account role may own publications of kind.
// Providers publish listings, requesters publish jobs.
func (a *Account) CanPublish(kind string) bool {
	if a == nil {
		return false
	}
	switch a.Role {
	case RoleProvider:
		return kind == PublicationKindListing
	case RoleRequester:
		return kind == PublicationKindJob
	default:
		return false
	}
}

var apiKeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const apiKeyPrefix = "sb_"

// HasActiveAPIKey reports whether the account can authenticate with a key
func (a *Account) HasActiveAPIKey() bool {
	return a != nil && a.APIKeyHash != ""
}

// IssueAPIKey generates a new API key, stores its hash on the struct and
// returns the raw secret. Callers persist the account afterwards.
func (a *Account) IssueAPIKey() (string, error) {
	rawKey, prefix, hash, err := generateAPIKeyMaterial()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	a.APIKeyHash = hash
	a.APIKeyPrefix = prefix
	a.APIKeyCreatedAt = &now
	a.APIKeyLastUsedAt = nil
	return rawKey, nil
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

func generateAPIKeyMaterial() (string, string, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", err
	}
	encoded := strings.ToLower(apiKeyEncoding.EncodeToString(b))
	rawKey := apiKeyPrefix + encoded
	if len(rawKey) < 12 {
		return "", "", "", fmt.Errorf("api key generation failed: key too short")
	}
	prefix := rawKey[:min(len(rawKey), 12)]
	return rawKey, prefix, HashAPIKey(rawKey), nil
}
