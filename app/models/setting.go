package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:191;not null;uniqueIndex" json:"key" validate:"required,min=1,max=191"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, integer
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppSettings holds the operator tunable marketplace settings.
type AppSettings struct {
	TopUpMinAmount                 int64  `json:"topup_min_amount" validate:"gte=1"`
	TopUpTTLMinutes                int    `json:"topup_ttl_minutes" validate:"gte=1,lte=43200"`
	TopUpCreateLimit               int    `json:"topup_create_limit" validate:"gte=1"`
	TopUpCreateWindowSeconds       int    `json:"topup_create_window_seconds" validate:"gte=1"`
	ActivationLimit                int    `json:"activation_limit" validate:"gte=1"`
	ActivationWindowSeconds        int    `json:"activation_window_seconds" validate:"gte=1"`
	PublicationCreateLimit         int    `json:"publication_create_limit" validate:"gte=1"`
	PublicationCreateWindowSeconds int    `json:"publication_create_window_seconds" validate:"gte=1"`
	SweepIntervalMinutes           int    `json:"sweep_interval_minutes" validate:"gte=1,lte=1440"`
	Currency                       string `json:"currency" validate:"required,len=3,uppercase"`
}

// DefaultAppSettings returns the built-in defaults used when a key is not stored.
func DefaultAppSettings() *AppSettings {
	return &AppSettings{
		TopUpMinAmount:                 100,
		TopUpTTLMinutes:                60,
		TopUpCreateLimit:               5,
		TopUpCreateWindowSeconds:       3600,
		ActivationLimit:                10,
		ActivationWindowSeconds:        60,
		PublicationCreateLimit:         20,
		PublicationCreateWindowSeconds: 3600,
		SweepIntervalMinutes:           1,
		Currency:                       "EUR",
	}
}

func (s *AppSettings) TopUpTTL() time.Duration {
	return time.Duration(s.TopUpTTLMinutes) * time.Minute
}

func (s *AppSettings) TopUpCreateWindow() time.Duration {
	return time.Duration(s.TopUpCreateWindowSeconds) * time.Second
}

func (s *AppSettings) ActivationWindow() time.Duration {
	return time.Duration(s.ActivationWindowSeconds) * time.Second
}

func (s *AppSettings) PublicationCreateWindow() time.Duration {
	return time.Duration(s.PublicationCreateWindowSeconds) * time.Second
}

func (s *AppSettings) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalMinutes) * time.Minute
}

// Global settings instance
var (
	appSettings *AppSettings
	settingsMu  sync.RWMutex
)

// GetAppSettings returns a copy of the current settings, defaults if never loaded.
func GetAppSettings() *AppSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	if appSettings == nil {
		return DefaultAppSettings()
	}
	cp := *appSettings
	return &cp
}

// SetAppSettings replaces the in-memory settings without persisting them.
func SetAppSettings(s *AppSettings) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	cp := *s
	appSettings = &cp
}

// LoadSettings loads settings from database into memory
func LoadSettings(db *gorm.DB) error {
	loaded := DefaultAppSettings()

	var settings []Setting
	if err := db.Find(&settings).Error; err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	for _, setting := range settings {
		if err := loaded.apply(setting.Key, setting.Value); err != nil {
			return fmt.Errorf("setting %s: %w", setting.Key, err)
		}
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("stored settings invalid: %w", err)
	}

	SetAppSettings(loaded)
	return nil
}

// SaveSettings saves current settings to database
func SaveSettings(db *gorm.DB, settings *AppSettings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		for key, value := range settings.values() {
			var setting Setting
			result := tx.Where("setting_key = ?", key).First(&setting)

			if result.Error != nil {
				if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
					return fmt.Errorf("failed to query setting %s: %w", key, result.Error)
				}
				setting = Setting{Key: key, Value: value, Type: getSettingType(key)}
				if err := tx.Create(&setting).Error; err != nil {
					return fmt.Errorf("failed to create setting %s: %w", key, err)
				}
				continue
			}

			setting.Value = value
			if err := tx.Save(&setting).Error; err != nil {
				return fmt.Errorf("failed to update setting %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	SetAppSettings(settings)
	return nil
}

func (s *AppSettings) values() map[string]string {
	return map[string]string{
		"topup_min_amount":                  strconv.FormatInt(s.TopUpMinAmount, 10),
		"topup_ttl_minutes":                 strconv.Itoa(s.TopUpTTLMinutes),
		"topup_create_limit":                strconv.Itoa(s.TopUpCreateLimit),
		"topup_create_window_seconds":       strconv.Itoa(s.TopUpCreateWindowSeconds),
		"activation_limit":                  strconv.Itoa(s.ActivationLimit),
		"activation_window_seconds":         strconv.Itoa(s.ActivationWindowSeconds),
		"publication_create_limit":          strconv.Itoa(s.PublicationCreateLimit),
		"publication_create_window_seconds": strconv.Itoa(s.PublicationCreateWindowSeconds),
		"sweep_interval_minutes":            strconv.Itoa(s.SweepIntervalMinutes),
		"currency":                          s.Currency,
	}
}

func (s *AppSettings) apply(key, value string) error {
	if key == "currency" {
		s.Currency = value
		return nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		// Unknown keys are ignored, known integer keys must parse.
		if getSettingType(key) == "integer" {
			return err
		}
		return nil
	}
	switch key {
	case "topup_min_amount":
		s.TopUpMinAmount = n
	case "topup_ttl_minutes":
		s.TopUpTTLMinutes = int(n)
	case "topup_create_limit":
		s.TopUpCreateLimit = int(n)
	case "topup_create_window_seconds":
		s.TopUpCreateWindowSeconds = int(n)
	case "activation_limit":
		s.ActivationLimit = int(n)
	case "activation_window_seconds":
		s.ActivationWindowSeconds = int(n)
	case "publication_create_limit":
		s.PublicationCreateLimit = int(n)
	case "publication_create_window_seconds":
		s.PublicationCreateWindowSeconds = int(n)
	case "sweep_interval_minutes":
		s.SweepIntervalMinutes = int(n)
	}
	return nil
}

// getSettingType returns the type of a setting based on its key
func getSettingType(key string) string {
	switch key {
	case "currency":
		return "string"
	case "topup_min_amount", "topup_ttl_minutes", "topup_create_limit", "topup_create_window_seconds",
		"activation_limit", "activation_window_seconds", "publication_create_limit",
		"publication_create_window_seconds", "sweep_interval_minutes":
		return "integer"
	default:
		return "string"
	}
}

// Validate validates the settings
func (s *AppSettings) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}

// ToJSON converts settings to JSON
func (s *AppSettings) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}
