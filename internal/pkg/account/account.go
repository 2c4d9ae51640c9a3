// Package account serves profile data, balance history and notifications to
// account holders, and the back-office account administration to operators.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/ledger"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/usercontext"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100

	referenceTypeOperator = "operator"
)

var validate = validator.New()

// RegisterInput describes an account created by an operator.
type RegisterInput struct {
	Name  string `json:"name" validate:"required,min=2,max=150"`
	Email string `json:"email" validate:"required,email,max=200"`
	Role  string `json:"role" validate:"required,oneof=provider requester operator"`
}

// Service bundles account level operations.
type Service struct {
	factory *repository.Factory
	now     func() time.Time
}

func NewService(factory *repository.Factory) *Service {
	return &Service{factory: factory, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

func requireLogin(uc usercontext.UserContext) error {
	if !uc.IsLoggedIn || uc.AccountID == 0 {
		return apperr.ErrUnauthorized
	}
	return nil
}

func requireOperator(uc usercontext.UserContext) error {
	if err := requireLogin(uc); err != nil {
		return err
	}
	if !uc.IsOperator() {
		return apperr.New(apperr.CodeForbidden, "operator role required")
	}
	return nil
}

func mapAccountErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrAccountNotFound
	}
	return fmt.Errorf("load account: %w", err)
}

// Authenticate resolves a raw API key to its account and records the usage.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (*models.Account, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return nil, apperr.ErrUnauthorized
	}
	repos := s.factory.WithContext(ctx)
	acc, err := repos.Account.GetByAPIKeyHash(models.HashAPIKey(rawKey))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeUnauthorized, "invalid API key")
		}
		return nil, fmt.Errorf("resolve api key: %w", err)
	}
	if err := repos.Account.TouchAPIKeyUsage(acc.ID, s.now().UTC()); err != nil {
		log.Warnf("[Account] Failed to record API key usage for account %d: %v", acc.ID, err)
	}
	return acc, nil
}

// Profile returns the caller's account including the current balance.
func (s *Service) Profile(ctx context.Context, uc usercontext.UserContext) (*models.Account, error) {
	if err := requireLogin(uc); err != nil {
		return nil, err
	}
	acc, err := s.factory.WithContext(ctx).Account.GetByID(uc.AccountID)
	if err != nil {
		return nil, mapAccountErr(err)
	}
	return acc, nil
}

// BalanceEntries returns the caller's ledger history, newest first.
func (s *Service) BalanceEntries(ctx context.Context, uc usercontext.UserContext, page, perPage int) ([]models.BalanceEntry, int, int, error) {
	if err := requireLogin(uc); err != nil {
		return nil, 0, 0, err
	}
	page, perPage = normalizePage(page, perPage)
	entries, err := s.factory.WithContext(ctx).BalanceEntry.ListByAccount(uc.AccountID, (page-1)*perPage, perPage)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("list balance entries: %w", err)
	}
	return entries, page, perPage, nil
}

// RotateAPIKey issues a new key for the caller. The old key stops working.
func (s *Service) RotateAPIKey(ctx context.Context, uc usercontext.UserContext) (string, error) {
	if err := requireLogin(uc); err != nil {
		return "", err
	}
	repos := s.factory.WithContext(ctx)
	acc, err := repos.Account.GetByID(uc.AccountID)
	if err != nil {
		return "", mapAccountErr(err)
	}
	raw, err := acc.IssueAPIKey()
	if err != nil {
		return "", fmt.Errorf("issue api key: %w", err)
	}
	if err := repos.Account.SaveAPIKey(acc); err != nil {
		return "", fmt.Errorf("save api key: %w", err)
	}
	log.Infof("[Account] Account %d rotated its API key (%s...)", acc.ID, acc.APIKeyPrefix)
	return raw, nil
}

// Notifications lists the caller's in-app notifications and the unread count.
func (s *Service) Notifications(ctx context.Context, uc usercontext.UserContext, unreadOnly bool, page, perPage int) ([]models.Notification, int64, error) {
	if err := requireLogin(uc); err != nil {
		return nil, 0, err
	}
	page, perPage = normalizePage(page, perPage)
	repos := s.factory.WithContext(ctx)
	list, err := repos.Notification.ListByAccount(uc.AccountID, unreadOnly, (page-1)*perPage, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	unread, err := repos.Notification.CountUnread(uc.AccountID)
	if err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return list, unread, nil
}

// MarkNotificationRead marks one of the caller's notifications as read.
func (s *Service) MarkNotificationRead(ctx context.Context, uc usercontext.UserContext, id uint) error {
	if err := requireLogin(uc); err != nil {
		return err
	}
	ok, err := s.factory.WithContext(ctx).Notification.MarkRead(id, uc.AccountID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if !ok {
		return apperr.New(apperr.CodeNotFound, "notification not found")
	}
	return nil
}

// Register creates an account and returns its first API key. The raw key is
// never stored and cannot be retrieved again.
func (s *Service) Register(ctx context.Context, operator usercontext.UserContext, in RegisterInput) (*models.Account, string, error) {
	if err := requireOperator(operator); err != nil {
		return nil, "", err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if err := validate.Struct(in); err != nil {
		return nil, "", apperr.Wrap(apperr.CodeValidation, "invalid account", err)
	}

	repos := s.factory.WithContext(ctx)
	if _, err := repos.Account.GetByEmail(in.Email); err == nil {
		return nil, "", apperr.Validation("email is already registered")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", fmt.Errorf("check email: %w", err)
	}

	acc := &models.Account{Name: in.Name, Email: in.Email, Role: in.Role}
	raw, err := acc.IssueAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("issue api key: %w", err)
	}
	if err := acc.Validate(); err != nil {
		return nil, "", apperr.Wrap(apperr.CodeValidation, "invalid account", err)
	}
	if err := repos.Account.Create(acc); err != nil {
		return nil, "", fmt.Errorf("create account: %w", err)
	}
	log.Infof("[Account] Operator %d registered account %d (%s)", operator.AccountID, acc.ID, acc.Role)
	return acc, raw, nil
}

// List returns accounts in id order for operators.
func (s *Service) List(ctx context.Context, operator usercontext.UserContext, page, perPage int) ([]models.Account, int64, error) {
	if err := requireOperator(operator); err != nil {
		return nil, 0, err
	}
	page, perPage = normalizePage(page, perPage)
	repos := s.factory.WithContext(ctx)
	list, err := repos.Account.List((page-1)*perPage, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}
	total, err := repos.Account.Count()
	if err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}
	return list, total, nil
}

// SetBanned bans or unbans an account. Operators cannot ban themselves.
func (s *Service) SetBanned(ctx context.Context, operator usercontext.UserContext, id uint, banned bool) (*models.Account, error) {
	if err := requireOperator(operator); err != nil {
		return nil, err
	}
	if banned && id == operator.AccountID {
		return nil, apperr.Validation("operators cannot ban themselves")
	}
	repos := s.factory.WithContext(ctx)
	if err := repos.Account.SetBanned(id, banned, s.now().UTC().Truncate(time.Second)); err != nil {
		return nil, mapAccountErr(err)
	}
	acc, err := repos.Account.GetByID(id)
	if err != nil {
		return nil, mapAccountErr(err)
	}
	log.Infof("[Account] Operator %d set banned=%t on account %d", operator.AccountID, banned, id)
	return acc, nil
}

// Credit adds a manual operator credit. Banned accounts can be credited.
func (s *Service) Credit(ctx context.Context, operator usercontext.UserContext, id uint, amount int64) (int64, error) {
	if err := requireOperator(operator); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, apperr.Validation("credit amount must be positive")
	}
	var balance int64
	err := s.factory.Transaction(ctx, func(repos *repository.Repositories) error {
		var err error
		balance, err = ledger.Credit(repos, ledger.CreditInput{
			AccountID:     id,
			Amount:        amount,
			Reason:        models.BalanceReasonOperatorCredit,
			ReferenceType: referenceTypeOperator,
			ReferenceID:   operator.AccountID,
			ByOperator:    true,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	ledger.RecordCredit(models.BalanceReasonOperatorCredit, amount)
	log.Infof("[Account] Operator %d credited %d to account %d", operator.AccountID, amount, id)
	return balance, nil
}
