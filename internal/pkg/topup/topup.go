// Package topup implements manual balance top-ups: an account files a
// request, optionally attests the offline payment, and an operator approves
// or rejects it before its deadline. A request reaches exactly one terminal
// state (APPROVED, REJECTED or EXPIRED) and never leaves it.
package topup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/ledger"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/metrics/prom"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/notify"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/ratelimit"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/sweep"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/usercontext"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100

	referenceType  = "topup_request"
	maxProofLength = 2000
	maxNoteLength  = 1000
)

// Page is one page of top-up requests.
type Page struct {
	Items   []models.TopUpRequest `json:"items"`
	Total   int64                 `json:"total"`
	Page    int                   `json:"page"`
	PerPage int                   `json:"per_page"`
}

// Options configures optional collaborators.
type Options struct {
	Limiter  *ratelimit.Limiter
	Notifier notify.Notifier
	Now      func() time.Time
}

// Service runs the top-up workflow.
type Service struct {
	factory  *repository.Factory
	sweeper  *sweep.Sweeper
	limiter  *ratelimit.Limiter
	notifier notify.Notifier
	now      func() time.Time
}

func NewService(factory *repository.Factory, sweeper *sweep.Sweeper, opts Options) *Service {
	s := &Service{
		factory:  factory,
		sweeper:  sweeper,
		limiter:  opts.Limiter,
		notifier: opts.Notifier,
		now:      opts.Now,
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
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

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.New(apperr.CodeNotFound, "top-up request not found")
	}
	return fmt.Errorf("load top-up request: %w", err)
}

// Create files a PENDING request that expires after the configured TTL.
func (s *Service) Create(ctx context.Context, uc usercontext.UserContext, amount int64) (*models.TopUpRequest, error) {
	if err := requireLogin(uc); err != nil {
		return nil, err
	}
	settings := models.GetAppSettings()
	if amount < settings.TopUpMinAmount {
		return nil, apperr.New(apperr.CodeBelowMinimumAmount,
			fmt.Sprintf("amount must be at least %d", settings.TopUpMinAmount))
	}

	repos := s.factory.WithContext(ctx)
	account, err := repos.Account.GetByID(uc.AccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account.IsBanned {
		return nil, apperr.ErrAccountBanned
	}

	if s.limiter != nil {
		key := "account:" + strconv.FormatUint(uint64(uc.AccountID), 10)
		if err := s.limiter.Allow(ctx, ratelimit.ActionTopUpCreate, key, ratelimit.RuleFor(ratelimit.ActionTopUpCreate, settings)); err != nil {
			return nil, err
		}
	}

	now := s.clock()
	req := &models.TopUpRequest{
		AccountID:        account.ID,
		AmountMinorUnits: amount,
		Currency:         settings.Currency,
		Status:           models.TopUpStatusPending,
		ExpiresAt:        now.Add(settings.TopUpTTL()),
	}
	if err := repos.TopUp.Create(req); err != nil {
		return nil, fmt.Errorf("create top-up request: %w", err)
	}
	prom.TopUpTransitions.WithLabelValues(models.TopUpStatusPending).Inc()
	log.Infof("[TopUp] Account %d requested %d %s (request %d)", account.ID, amount, req.Currency, req.ID)
	return req, nil
}

// expireLocked flips a pending request past its deadline to EXPIRED.
func expireLocked(repos *repository.Repositories, req *models.TopUpRequest, now time.Time) error {
	if _, err := repos.TopUp.UpdateIfPending(req.ID, map[string]interface{}{
		"status":      models.TopUpStatusExpired,
		"resolved_at": now,
	}); err != nil {
		return fmt.Errorf("expire top-up request: %w", err)
	}
	req.Status = models.TopUpStatusExpired
	req.ResolvedAt = &now
	return nil
}

// AttestPayment records the owner's proof of payment. The status stays PENDING.
func (s *Service) AttestPayment(ctx context.Context, uc usercontext.UserContext, id uint, proofText string) (*models.TopUpRequest, error) {
	if err := requireLogin(uc); err != nil {
		return nil, err
	}
	proofText = strings.TrimSpace(proofText)
	if len(proofText) > maxProofLength {
		return nil, apperr.Validation(fmt.Sprintf("proof text exceeds %d characters", maxProofLength))
	}

	var (
		req     *models.TopUpRequest
		expired bool
	)
	err := s.factory.Transaction(ctx, func(repos *repository.Repositories) error {
		var err error
		req, err = repos.TopUp.LockByID(id)
		if err != nil {
			return notFound(err)
		}
		if req.AccountID != uc.AccountID {
			return apperr.ErrForbidden
		}
		if err := checkPending(req); err != nil {
			return err
		}
		now := s.clock()
		if req.IsExpiredAt(now) {
			expired = true
			return expireLocked(repos, req, now)
		}
		// The row lock guarantees the request is still pending.
		if _, err := repos.TopUp.UpdateIfPending(req.ID, map[string]interface{}{
			"proof_text":  proofText,
			"attested_at": now,
		}); err != nil {
			return fmt.Errorf("attest top-up request: %w", err)
		}
		req.ProofText = proofText
		req.AttestedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		prom.TopUpTransitions.WithLabelValues(models.TopUpStatusExpired).Inc()
		return nil, apperr.ErrRequestExpired
	}
	return req, nil
}

// checkPending maps terminal states to their conflict errors.
func checkPending(req *models.TopUpRequest) error {
	switch req.Status {
	case models.TopUpStatusPending:
		return nil
	case models.TopUpStatusExpired:
		return apperr.ErrRequestExpired
	default:
		return apperr.New(apperr.CodeNotPending, "request is already "+req.Status)
	}
}

// Approve credits the account and marks the request APPROVED in one
// transaction. Past the deadline the request becomes EXPIRED instead and the
// call fails with RequestExpired.
func (s *Service) Approve(ctx context.Context, operator usercontext.UserContext, id uint, note string) (*models.TopUpRequest, error) {
	if err := requireOperator(operator); err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)
	if len(note) > maxNoteLength {
		return nil, apperr.Validation(fmt.Sprintf("note exceeds %d characters", maxNoteLength))
	}

	var (
		req     *models.TopUpRequest
		expired bool
		balance int64
	)
	err := s.factory.Transaction(ctx, func(repos *repository.Repositories) error {
		var err error
		req, err = repos.TopUp.LockByID(id)
		if err != nil {
			return notFound(err)
		}
		if err := checkPending(req); err != nil {
			return err
		}
		now := s.clock()
		if req.IsExpiredAt(now) {
			expired = true
			return expireLocked(repos, req, now)
		}

		ok, err := repos.TopUp.UpdateIfPending(req.ID, map[string]interface{}{
			"status":        models.TopUpStatusApproved,
			"approver_id":   operator.AccountID,
			"operator_note": note,
			"resolved_at":   now,
		})
		if err != nil {
			return fmt.Errorf("approve top-up request: %w", err)
		}
		if !ok {
			return apperr.ErrNotPending
		}
		balance, err = ledger.Credit(repos, ledger.CreditInput{
			AccountID:     req.AccountID,
			Amount:        req.AmountMinorUnits,
			Reason:        models.BalanceReasonTopUp,
			ReferenceType: referenceType,
			ReferenceID:   req.ID,
			ByOperator:    true,
		})
		if err != nil {
			return err
		}
		approver := operator.AccountID
		req.Status = models.TopUpStatusApproved
		req.ApproverID = &approver
		req.OperatorNote = note
		req.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		prom.TopUpTransitions.WithLabelValues(models.TopUpStatusExpired).Inc()
		log.Infof("[TopUp] Request %d expired before approval", id)
		return nil, apperr.ErrRequestExpired
	}

	prom.TopUpTransitions.WithLabelValues(models.TopUpStatusApproved).Inc()
	ledger.RecordCredit(models.BalanceReasonTopUp, req.AmountMinorUnits)
	log.Infof("[TopUp] Operator %d approved request %d, account %d balance now %d",
		operator.AccountID, req.ID, req.AccountID, balance)
	s.notifier.Notify(ctx, notify.Message{
		AccountID: req.AccountID,
		Type:      models.NotificationTopUpApproved,
		Title:     "Top-up approved",
		Body:      fmt.Sprintf("%d %s were credited to your balance.", req.AmountMinorUnits, req.Currency),
		Link:      fmt.Sprintf("/topups/%d", req.ID),
	})
	return req, nil
}

// Reject closes a pending request without touching the balance. Past the
// deadline the request becomes EXPIRED instead; that is not an error.
func (s *Service) Reject(ctx context.Context, operator usercontext.UserContext, id uint, note string) (*models.TopUpRequest, error) {
	if err := requireOperator(operator); err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)
	if len(note) > maxNoteLength {
		return nil, apperr.Validation(fmt.Sprintf("note exceeds %d characters", maxNoteLength))
	}

	var req *models.TopUpRequest
	err := s.factory.Transaction(ctx, func(repos *repository.Repositories) error {
		var err error
		req, err = repos.TopUp.LockByID(id)
		if err != nil {
			return notFound(err)
		}
		if !req.IsPending() {
			return apperr.New(apperr.CodeNotPending, "request is already "+req.Status)
		}
		now := s.clock()
		if req.IsExpiredAt(now) {
			return expireLocked(repos, req, now)
		}
		ok, err := repos.TopUp.UpdateIfPending(req.ID, map[string]interface{}{
			"status":        models.TopUpStatusRejected,
			"approver_id":   operator.AccountID,
			"operator_note": note,
			"resolved_at":   now,
		})
		if err != nil {
			return fmt.Errorf("reject top-up request: %w", err)
		}
		if !ok {
			return apperr.ErrNotPending
		}
		approver := operator.AccountID
		req.Status = models.TopUpStatusRejected
		req.ApproverID = &approver
		req.OperatorNote = note
		req.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	prom.TopUpTransitions.WithLabelValues(req.Status).Inc()
	if req.Status == models.TopUpStatusRejected {
		body := "Your top-up request was rejected."
		if note != "" {
			body += " Note: " + note
		}
		s.notifier.Notify(ctx, notify.Message{
			AccountID: req.AccountID,
			Type:      models.NotificationTopUpRejected,
			Title:     "Top-up rejected",
			Body:      body,
			Link:      fmt.Sprintf("/topups/%d", req.ID),
		})
	}
	return req, nil
}

// Get returns a request to its owner or an operator.
func (s *Service) Get(ctx context.Context, uc usercontext.UserContext, id uint) (*models.TopUpRequest, error) {
	if err := requireLogin(uc); err != nil {
		return nil, err
	}
	if _, err := s.sweeper.Lazy(ctx); err != nil {
		return nil, err
	}
	req, err := s.factory.WithContext(ctx).TopUp.GetByID(id)
	if err != nil {
		return nil, notFound(err)
	}
	if req.AccountID != uc.AccountID && !uc.IsOperator() {
		return nil, apperr.New(apperr.CodeNotFound, "top-up request not found")
	}
	return req, nil
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

// ListMine lists the caller's requests, newest first.
func (s *Service) ListMine(ctx context.Context, uc usercontext.UserContext, page, perPage int) (*Page, error) {
	if err := requireLogin(uc); err != nil {
		return nil, err
	}
	if _, err := s.sweeper.Lazy(ctx); err != nil {
		return nil, err
	}
	page, perPage = normalizePage(page, perPage)
	repos := s.factory.WithContext(ctx)
	items, err := repos.TopUp.ListByAccount(uc.AccountID, (page-1)*perPage, perPage)
	if err != nil {
		return nil, fmt.Errorf("list top-up requests: %w", err)
	}
	total, err := repos.TopUp.CountByAccount(uc.AccountID)
	if err != nil {
		return nil, fmt.Errorf("count top-up requests: %w", err)
	}
	return &Page{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// ListPending lists pending requests oldest first for operators.
func (s *Service) ListPending(ctx context.Context, operator usercontext.UserContext, page, perPage int) (*Page, error) {
	return s.ListAll(ctx, operator, models.TopUpStatusPending, page, perPage)
}

// ListAll lists requests in status (all when empty) for operators.
func (s *Service) ListAll(ctx context.Context, operator usercontext.UserContext, status string, page, perPage int) (*Page, error) {
	if err := requireOperator(operator); err != nil {
		return nil, err
	}
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", models.TopUpStatusPending, models.TopUpStatusApproved, models.TopUpStatusRejected, models.TopUpStatusExpired:
	default:
		return nil, apperr.Validation("unknown status " + status)
	}
	if _, err := s.sweeper.Lazy(ctx); err != nil {
		return nil, err
	}
	page, perPage = normalizePage(page, perPage)
	repos := s.factory.WithContext(ctx)
	items, err := repos.TopUp.ListByStatus(status, (page-1)*perPage, perPage)
	if err != nil {
		return nil, fmt.Errorf("list top-up requests: %w", err)
	}
	total, err := repos.TopUp.CountByStatus(status)
	if err != nil {
		return nil, fmt.Errorf("count top-up requests: %w", err)
	}
	return &Page{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}
