// Package publication implements the publication lifecycle: creation,
// paid activation, pause, completion and responses.
//
// Status machine: PAUSED <-> ACTIVE -> PAUSED (deadline or owner),
// any -> COMPLETED (terminal). ACTIVE is only reachable through a funded
// activation or by resuming inside a still running paid period.
package publication

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
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/tariff"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/usercontext"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100

	referenceType = "publication"
)

// ViewRecorder counts publication views.
type ViewRecorder interface {
	AddPublicationView(ctx context.Context, publicationID uint) error
}

// CreateInput is the payload for a new publication.
type CreateInput struct {
	Kind         string `json:"kind" validate:"required,oneof=listing job"`
	Title        string `json:"title" validate:"required,min=3,max=200"`
	Description  string `json:"description" validate:"max=5000"`
	TariffPlanID *uint  `json:"tariff_plan_id,omitempty"`
}

// Page is one page of a publication listing.
type Page struct {
	Items   []models.Publication `json:"items"`
	Total   int64                `json:"total"`
	Page    int                  `json:"page"`
	PerPage int                  `json:"per_page"`
}

// Service runs publication use cases.
type Service struct {
	factory  *repository.Factory
	sweeper  *sweep.Sweeper
	limiter  *ratelimit.Limiter
	notifier notify.Notifier
	views    ViewRecorder
	now      func() time.Time
}

// Options configures optional collaborators. Nil limiter or views disable them.
type Options struct {
	Limiter  *ratelimit.Limiter
	Notifier notify.Notifier
	Views    ViewRecorder
	Now      func() time.Time
}

func NewService(factory *repository.Factory, sweeper *sweep.Sweeper, opts Options) *Service {
	s := &Service{
		factory:  factory,
		sweeper:  sweeper,
		limiter:  opts.Limiter,
		notifier: opts.Notifier,
		views:    opts.Views,
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

func actorKey(uc usercontext.UserContext) string {
	return "account:" + strconv.FormatUint(uint64(uc.AccountID), 10)
}

func (s *Service) allow(ctx context.Context, action string, uc usercontext.UserContext) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Allow(ctx, action, actorKey(uc), ratelimit.RuleFor(action, models.GetAppSettings()))
}

func requireLogin(uc usercontext.UserContext) error {
	if !uc.IsLoggedIn || uc.AccountID == 0 {
		return apperr.ErrUnauthorized
	}
	return nil
}

func mapNotFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.New(apperr.CodeNotFound, what+" not found")
	}
	return err
}

// Create stores a new publication. Without a tariff it starts PAUSED; with a
// tariff it is created and activated in one transaction.
func (s *Service) Create(ctx context.Context, uc usercontext.UserContext, in CreateInput) (*models.Publication, error) {
	if err := requireLogin(uc); err != nil {
		return nil, err
	}
	in.Kind = strings.ToLower(strings.TrimSpace(in.Kind))
	in.Title = strings.TrimSpace(in.Title)

	pub := &models.Publication{
		OwnerID:     uc.AccountID,
		Kind:        in.Kind,
		Title:       in.Title,
		Description: in.Description,
		Status:      models.PublicationStatusPaused,
	}
	if err := pub.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "invalid publication", err)
	}

	owner, err := s.factory.WithContext(ctx).Account.GetByID(uc.AccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if owner.IsBanned {
		return nil, apperr.ErrAccountBanned
	}
	if !owner.CanPublish(in.Kind) {
		return nil, apperr.New(apperr.CodeForbidden, fmt.Sprintf("role %s cannot publish %s", owner.Role, in.Kind))
	}
	if err := s.allow(ctx, ratelimit.ActionPublicationCreate, uc); err != nil {
		return nil, err
	}

	var plan *models.TariffPlan
	err = s.factory.Transaction(ctx, func(repos *repository.Repositories) error {
		if err := repos.Publication.Create(pub); err != nil {
			return fmt.Errorf("create publication: %w", err)
		}
		if in.TariffPlanID == nil {
			return nil
		}
		var aerr error
		plan, aerr = s.activateLocked(repos, pub, *in.TariffPlanID)
		return aerr
	})
	if in.TariffPlanID != nil {
		recordActivation(err)
	}
	if err != nil {
		return nil, err
	}

	if plan != nil {
		ledger.RecordDebit(models.BalanceReasonActivation, tariff.EffectivePrice(plan))
		s.notifyActivated(ctx, pub, plan)
	}
	log.Infof("[Publication] Account %d created %s %s (%s)", uc.AccountID, pub.Kind, pub.UUID, pub.Status)
	return pub, nil
}

// Activate charges the effective tariff price and (re)starts the paid period
// from now. Re-activating an ACTIVE publication replaces the running period.
func (s *Service) Activate(ctx context.Context, uc usercontext.UserContext, publicationUUID string, tariffPlanID uint) (*models.Publication, error) {
	if err := requireLogin(uc); err != nil {
		return nil, err
	}
	if err := s.allow(ctx, ratelimit.ActionPublicationActivate, uc); err != nil {
		return nil, err
	}

	var (
		pub  *models.Publication
		plan *models.TariffPlan
	)
	err := s.factory.Transaction(ctx, func(repos *repository.Repositories) error {
		var err error
		pub, err = lockOwned(repos, uc, publicationUUID)
		if err != nil {
			return err
		}
		plan, err = s.activateLocked(repos, pub, tariffPlanID)
		return err
	})
	recordActivation(err)
	if err != nil {
		return nil, err
	}

	ledger.RecordDebit(models.BalanceReasonActivation, tariff.EffectivePrice(plan))
	s.notifyActivated(ctx, pub, plan)
	log.Infof("[Publication] %s activated on plan %d until %s", pub.UUID, plan.ID, pub.ExpiresAt.Format(time.RFC3339))
	return pub, nil
}

// activateLocked runs the funded part of an activation on transaction scoped
// repositories. pub must be locked or freshly created in the same transaction.
func (s *Service) activateLocked(repos *repository.Repositories, pub *models.Publication, tariffPlanID uint) (*models.TariffPlan, error) {
	if pub.IsCompleted() {
		return nil, apperr.ErrAlreadyCompleted
	}
	plan, err := tariff.Resolve(repos, tariffPlanID)
	if err != nil {
		return nil, err
	}
	price := tariff.EffectivePrice(plan)
	now := s.clock()

	if _, err := ledger.Debit(repos, ledger.DebitInput{
		AccountID:     pub.OwnerID,
		Amount:        price,
		Reason:        models.BalanceReasonActivation,
		ReferenceType: referenceType,
		ReferenceID:   pub.ID,
	}); err != nil {
		return nil, err
	}

	if _, err := repos.Assignment.ExpireActiveByPublication(pub.ID, now); err != nil {
		return nil, fmt.Errorf("expire previous assignment: %w", err)
	}
	assignment := models.NewActiveAssignment(pub.ID, plan, price, now)
	if err := repos.Assignment.Create(assignment); err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}

	endsAt := assignment.EndsAt
	if err := repos.Publication.UpdateState(pub.ID, models.PublicationStatusActive, &endsAt); err != nil {
		return nil, fmt.Errorf("update publication state: %w", err)
	}
	pub.Status = models.PublicationStatusActive
	pub.ExpiresAt = &endsAt
	return plan, nil
}

func recordActivation(err error) {
	result := "ok"
	if err != nil {
		result = string(apperr.CodeOf(err))
	}
	prom.Activations.WithLabelValues(result).Inc()
}

func (s *Service) notifyActivated(ctx context.Context, pub *models.Publication, plan *models.TariffPlan) {
	s.notifier.Notify(ctx, notify.Message{
		AccountID: pub.OwnerID,
		Type:      models.NotificationPublicationActivated,
		Title:     "Publication activated",
		Body: fmt.Sprintf("%q is visible with %s until %s.",
			pub.Title, plan.Name, pub.ExpiresAt.Format("2006-01-02 15:04 MST")),
		Link: "/publications/" + pub.UUID,
	})
}

// lockOwned loads and locks the publication and checks that uc owns it.
func lockOwned(repos *repository.Repositories, uc usercontext.UserContext, publicationUUID string) (*models.Publication, error) {
	found, err := repos.Publication.GetByUUID(publicationUUID)
	if err != nil {
		return nil, mapNotFound(err, "publication")
	}
	if !found.IsOwnedBy(uc.AccountID) {
		return nil, apperr.ErrForbidden
	}
	pub, err := repos.Publication.LockByID(found.ID)
	if err != nil {
		return nil, mapNotFound(err, "publication")
	}
	return pub, nil
}

// Pause takes an ACTIVE publication offline. The paid period keeps running;
// the publication goes live again only through Activate.
func (s *Service) Pause(ctx context.Context, uc usercontext.UserContext, publicationUUID string) (*models.Publication, error) {
	if err := requireLogin(uc); err != nil {
		return nil, err
	}
	var pub *models.Publication
	err := s.factory.Transaction(ctx, func(repos *repository.Repositories) error {
		var err error
		pub, err = lockOwned(repos, uc, publicationUUID)
		if err != nil {
			return err
		}
		switch pub.Status {
		case models.PublicationStatusCompleted:
			return apperr.ErrAlreadyCompleted
		case models.PublicationStatusPaused:
			return nil
		}
		if err := repos.Publication.UpdateState(pub.ID, models.PublicationStatusPaused, pub.ExpiresAt); err != nil {
			return fmt.Errorf("pause publication: %w", err)
		}
		pub.Status = models.PublicationStatusPaused
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// Complete closes the publication for good: the running assignment ends now
// and pending responses are closed.
func (s *Service) Complete(ctx context.Context, uc usercontext.UserContext, publicationUUID string) (*models.Publication, error) {
	if err := requireLogin(uc); err != nil {
		return nil, err
	}
	var (
		pub    *models.Publication
		closed int64
	)
	err := s.factory.Transaction(ctx, func(repos *repository.Repositories) error {
		var err error
		pub, err = lockOwned(repos, uc, publicationUUID)
		if err != nil {
			return err
		}
		if pub.IsCompleted() {
			return apperr.ErrAlreadyCompleted
		}
		now := s.clock()
		if _, err := repos.Assignment.ExpireActiveByPublication(pub.ID, now); err != nil {
			return fmt.Errorf("expire assignment: %w", err)
		}
		if err := repos.Publication.MarkCompleted(pub.ID, now); err != nil {
			return fmt.Errorf("complete publication: %w", err)
		}
		if closed, err = repos.Response.CloseOpenByPublication(pub.ID); err != nil {
			return fmt.Errorf("close responses: %w", err)
		}
		pub.Status = models.PublicationStatusCompleted
		pub.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Publication] %s completed, %d pending responses closed", pub.UUID, closed)
	return pub, nil
}

// Get returns a publication. Anyone may see ACTIVE publications; other
// states are visible to the owner and operators only. Foreign views are counted.
func (s *Service) Get(ctx context.Context, uc usercontext.UserContext, publicationUUID string) (*models.Publication, error) {
	if _, err := s.sweeper.Lazy(ctx); err != nil {
		return nil, err
	}
	pub, err := s.factory.WithContext(ctx).Publication.GetByUUID(publicationUUID)
	if err != nil {
		return nil, mapNotFound(err, "publication")
	}
	owner := uc.IsLoggedIn && pub.IsOwnedBy(uc.AccountID)
	if pub.Status != models.PublicationStatusActive && !owner && !uc.IsOperator() {
		return nil, apperr.New(apperr.CodeNotFound, "publication not found")
	}
	if !owner && s.views != nil {
		if err := s.views.AddPublicationView(ctx, pub.ID); err != nil {
			log.Warnf("[Publication] Counting view of %s failed: %v", pub.UUID, err)
		}
	}
	return pub, nil
}

// Assignments lists the paid periods of a publication, newest first.
func (s *Service) Assignments(ctx context.Context, uc usercontext.UserContext, publicationUUID string) ([]models.TariffAssignment, error) {
	if err := requireLogin(uc); err != nil {
		return nil, err
	}
	repos := s.factory.WithContext(ctx)
	pub, err := repos.Publication.GetByUUID(publicationUUID)
	if err != nil {
		return nil, mapNotFound(err, "publication")
	}
	if !pub.IsOwnedBy(uc.AccountID) && !uc.IsOperator() {
		return nil, apperr.ErrForbidden
	}
	return repos.Assignment.ListByPublication(pub.ID)
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

// ListMine lists the caller's publications in every state.
func (s *Service) ListMine(ctx context.Context, uc usercontext.UserContext, page, perPage int) (*Page, error) {
	if err := requireLogin(uc); err != nil {
		return nil, err
	}
	if _, err := s.sweeper.Lazy(ctx); err != nil {
		return nil, err
	}
	page, perPage = normalizePage(page, perPage)
	repos := s.factory.WithContext(ctx)
	items, err := repos.Publication.ListByOwner(uc.AccountID, (page-1)*perPage, perPage)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	total, err := repos.Publication.CountByOwner(uc.AccountID)
	if err != nil {
		return nil, fmt.Errorf("count publications: %w", err)
	}
	return &Page{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// ListPublic lists ACTIVE publications, best visibility tier first, then newest.
func (s *Service) ListPublic(ctx context.Context, kind string, page, perPage int) (*Page, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != "" && kind != models.PublicationKindListing && kind != models.PublicationKindJob {
		return nil, apperr.Validation("kind must be listing or job")
	}
	if _, err := s.sweeper.Lazy(ctx); err != nil {
		return nil, err
	}
	page, perPage = normalizePage(page, perPage)
	repos := s.factory.WithContext(ctx)
	items, err := repos.Publication.ListPublic(kind, (page-1)*perPage, perPage)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	total, err := repos.Publication.CountPublic(kind)
	if err != nil {
		return nil, fmt.Errorf("count publications: %w", err)
	}
	return &Page{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}
