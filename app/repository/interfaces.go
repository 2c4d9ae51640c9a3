package repository

import (
	"time"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"gorm.io/gorm"
)

// AccountRepository defines the interface for account persistence.
// Balance changes go through DebitIfSufficient and Credit only.
type AccountRepository interface {
	Create(account *models.Account) error
	GetByID(id uint) (*models.Account, error)
	LockByID(id uint) (*models.Account, error)
	GetByEmail(email string) (*models.Account, error)
	GetByAPIKeyHash(hash string) (*models.Account, error)
	List(offset, limit int) ([]models.Account, error)
	Count() (int64, error)
	SetBanned(id uint, banned bool, at time.Time) error
	TouchAPIKeyUsage(id uint, at time.Time) error
	SaveAPIKey(account *models.Account) error
	DebitIfSufficient(id uint, amount int64) (bool, error)
	Credit(id uint, amount int64) error
}

// TariffPlanRepository defines the interface for the tariff catalog
type TariffPlanRepository interface {
	Create(plan *models.TariffPlan) error
	GetByID(id uint) (*models.TariffPlan, error)
	Update(plan *models.TariffPlan) error
	SetActive(id uint, active bool) error
	ListActive() ([]models.TariffPlan, error)
	ListAll() ([]models.TariffPlan, error)
}

// PublicationRepository defines the interface for publication persistence
type PublicationRepository interface {
	Create(publication *models.Publication) error
	GetByID(id uint) (*models.Publication, error)
	GetByUUID(uuid string) (*models.Publication, error)
	LockByID(id uint) (*models.Publication, error)
	UpdateState(id uint, status string, expiresAt *time.Time) error
	MarkCompleted(id uint, at time.Time) error
	ListByOwner(ownerID uint, offset, limit int) ([]models.Publication, error)
	CountByOwner(ownerID uint) (int64, error)
	ListPublic(kind string, offset, limit int) ([]models.Publication, error)
	CountPublic(kind string) (int64, error)
	PauseExpired(now time.Time) (int64, error)
	AddViewCounts(counts map[uint]int64) error
}

// TariffAssignmentRepository defines the interface for paid activation periods
type TariffAssignmentRepository interface {
	Create(assignment *models.TariffAssignment) error
	GetActiveByPublication(publicationID uint) (*models.TariffAssignment, error)
	ListByPublication(publicationID uint) ([]models.TariffAssignment, error)
	CountActiveByPublication(publicationID uint) (int64, error)
	ExpireActiveByPublication(publicationID uint, at time.Time) (int64, error)
	ExpireEnded(now time.Time) (int64, error)
}

// TopUpRepository defines the interface for manual top-up requests
type TopUpRepository interface {
	Create(request *models.TopUpRequest) error
	GetByID(id uint) (*models.TopUpRequest, error)
	LockByID(id uint) (*models.TopUpRequest, error)
	UpdateIfPending(id uint, fields map[string]interface{}) (bool, error)
	ListByAccount(accountID uint, offset, limit int) ([]models.TopUpRequest, error)
	CountByAccount(accountID uint) (int64, error)
	ListByStatus(status string, offset, limit int) ([]models.TopUpRequest, error)
	CountByStatus(status string) (int64, error)
	ExpirePending(now time.Time) (int64, error)
}

// BalanceEntryRepository defines the interface for the ledger audit trail
type BalanceEntryRepository interface {
	Create(entry *models.BalanceEntry) error
	ListByAccount(accountID uint, offset, limit int) ([]models.BalanceEntry, error)
	SumByAccount(accountID uint) (int64, error)
}

// ResponseRepository defines the interface for publication responses
type ResponseRepository interface {
	Create(response *models.PublicationResponse) error
	Exists(publicationID, accountID uint) (bool, error)
	ListByPublication(publicationID uint) ([]models.PublicationResponse, error)
	CloseOpenByPublication(publicationID uint) (int64, error)
}

// NotificationRepository defines the interface for in-app notifications
type NotificationRepository interface {
	Create(notification *models.Notification) error
	ListByAccount(accountID uint, unreadOnly bool, offset, limit int) ([]models.Notification, error)
	CountUnread(accountID uint) (int64, error)
	MarkRead(id, accountID uint) (bool, error)
}

// SettingRepository defines the interface for application settings
type SettingRepository interface {
	Get() (*models.AppSettings, error)
	Save(settings *models.AppSettings) error
	GetValue(key string) (string, error)
	SetValue(key, value string) error
}

// RateLimitWindowRepository defines the interface for the limiter audit mirror
type RateLimitWindowRepository interface {
	Upsert(window *models.RateLimitWindow) error
	Get(action, actorKey string) (*models.RateLimitWindow, error)
	DeleteEndedBefore(t time.Time) (int64, error)
}

// Repositories bundles every repository bound to one *gorm.DB, either the
// pool or a running transaction.
type Repositories struct {
	Account         AccountRepository
	TariffPlan      TariffPlanRepository
	Publication     PublicationRepository
	Assignment      TariffAssignmentRepository
	TopUp           TopUpRepository
	BalanceEntry    BalanceEntryRepository
	Response        ResponseRepository
	Notification    NotificationRepository
	Setting         SettingRepository
	RateLimitWindow RateLimitWindowRepository
}

// NewRepositories creates all repositories on top of db
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Account:         NewAccountRepository(db),
		TariffPlan:      NewTariffPlanRepository(db),
		Publication:     NewPublicationRepository(db),
		Assignment:      NewTariffAssignmentRepository(db),
		TopUp:           NewTopUpRepository(db),
		BalanceEntry:    NewBalanceEntryRepository(db),
		Response:        NewResponseRepository(db),
		Notification:    NewNotificationRepository(db),
		Setting:         NewSettingRepository(db),
		RateLimitWindow: NewRateLimitWindowRepository(db),
	}
}
