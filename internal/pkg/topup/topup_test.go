package topup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/notify/notifytest"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/publication"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/ratelimit"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/sweep"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/usercontext"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	factory  *repository.Factory
	repos    *repository.Repositories
	sweeper  *sweep.Sweeper
	svc      *Service
	clock    *clock
	notifier *notifytest.Recorder
}

func withSettings(t *testing.T, mutate func(s *models.AppSettings)) {
	t.Helper()
	prev := models.GetAppSettings()
	t.Cleanup(func() { models.SetAppSettings(prev) })
	s := models.DefaultAppSettings()
	mutate(s)
	models.SetAppSettings(s)
}

func setup(t *testing.T) *fixture {
	t.Helper()
	factory := repository.NewFactory(dbtest.Open(t))
	c := &clock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	rec := &notifytest.Recorder{}
	sw := sweep.New(factory).WithClock(c.Now)
	svc := NewService(factory, sw, Options{Notifier: rec, Now: c.Now})
	return &fixture{factory: factory, repos: factory.GetRepositories(), sweeper: sw, svc: svc, clock: c, notifier: rec}
}

func (f *fixture) account(t *testing.T, email, role string, balance int64) usercontext.UserContext {
	t.Helper()
	a := &models.Account{Name: "Acc " + email, Email: email, Role: role, BalanceMinorUnits: balance}
	require.NoError(t, f.repos.Account.Create(a))
	return usercontext.FromAccount(a)
}

func (f *fixture) balance(t *testing.T, id uint) int64 {
	t.Helper()
	a, err := f.repos.Account.GetByID(id)
	require.NoError(t, err)
	return a.BalanceMinorUnits
}

func (f *fixture) reload(t *testing.T, id uint) *models.TopUpRequest {
	t.Helper()
	r, err := f.repos.TopUp.GetByID(id)
	require.NoError(t, err)
	return r
}

func TestCreateRequest(t *testing.T) {
	withSettings(t, func(s *models.AppSettings) { s.TopUpTTLMinutes = 5 })
	f := setup(t)
	provider := f.account(t, "p@example.com", models.RoleProvider, 0)

	req, err := f.svc.Create(context.Background(), provider, 1000)
	require.NoError(t, err)
	assert.Equal(t, models.TopUpStatusPending, req.Status)
	assert.Equal(t, "EUR", req.Currency)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), req.ExpiresAt)
	assert.Equal(t, int64(0), f.balance(t, provider.AccountID), "creating a request never moves money")
}

func TestCreateValidation(t *testing.T) {
	f := setup(t)
	provider := f.account(t, "p@example.com", models.RoleProvider, 0)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, provider, 99)
	assert.ErrorIs(t, err, apperr.ErrBelowMinimumAmount)
	_, err = f.svc.Create(ctx, provider, -5)
	assert.ErrorIs(t, err, apperr.ErrBelowMinimumAmount)

	_, err = f.svc.Create(ctx, usercontext.UserContext{}, 1000)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	require.NoError(t, f.repos.Account.SetBanned(provider.AccountID, true, f.clock.Now()))
	_, err = f.svc.Create(ctx, provider, 1000)
	assert.ErrorIs(t, err, apperr.ErrAccountBanned)
}

func TestCreateIsRateLimited(t *testing.T) {
	withSettings(t, func(s *models.AppSettings) { s.TopUpCreateLimit = 1 })
	f := setup(t)
	f.svc.limiter = ratelimit.New(ratelimit.NewMemoryStore()).WithClock(f.clock.Now)
	provider := f.account(t, "p@example.com", models.RoleProvider, 0)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, provider, 1000)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, provider, 1000)
	assert.ErrorIs(t, err, apperr.ErrRateLimited)
}

func TestApproveCreditsOnce(t *testing.T) {
	f := setup(t)
	provider := f.account(t, "p@example.com", models.RoleProvider, 0)
	op := f.account(t, "op@example.com", models.RoleOperator, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, provider, 1000)
	require.NoError(t, err)

	approved, err := f.svc.Approve(ctx, op, req.ID, "bank transfer seen")
	require.NoError(t, err)
	assert.Equal(t, models.TopUpStatusApproved, approved.Status)
	require.NotNil(t, approved.ApproverID)
	assert.Equal(t, op.AccountID, *approved.ApproverID)
	assert.Equal(t, int64(1000), f.balance(t, provider.AccountID))

	_, err = f.svc.Approve(ctx, op, req.ID, "")
	assert.ErrorIs(t, err, apperr.ErrNotPending)
	_, err = f.svc.Reject(ctx, op, req.ID, "")
	assert.ErrorIs(t, err, apperr.ErrNotPending)
	assert.Equal(t, int64(1000), f.balance(t, provider.AccountID), "second approval must not credit again")

	entries, err := f.repos.BalanceEntry.ListByAccount(provider.AccountID, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.BalanceReasonTopUp, entries[0].Reason)
	assert.Equal(t, req.ID, entries[0].ReferenceID)

	assert.Equal(t, []string{models.NotificationTopUpApproved}, f.notifier.Types())
}

func TestApproveRequiresOperator(t *testing.T) {
	f := setup(t)
	provider := f.account(t, "p@example.com", models.RoleProvider, 0)
	ctx := context.Background()
	req, err := f.svc.Create(ctx, provider, 1000)
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, provider, req.ID, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.Reject(ctx, provider, req.ID, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	op := f.account(t, "op@example.com", models.RoleOperator, 0)
	_, err = f.svc.Approve(ctx, op, 9999, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApproveAfterDeadlineExpires(t *testing.T) {
	withSettings(t, func(s *models.AppSettings) { s.TopUpTTLMinutes = 5 })
	f := setup(t)
	provider := f.account(t, "p@example.com", models.RoleProvider, 0)
	op := f.account(t, "op@example.com", models.RoleOperator, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, provider, 1000)
	require.NoError(t, err)
	f.clock.Advance(6 * time.Minute)

	_, err = f.svc.Approve(ctx, op, req.ID, "")
	require.ErrorIs(t, err, apperr.ErrRequestExpired)

	stored := f.reload(t, req.ID)
	assert.Equal(t, models.TopUpStatusExpired, stored.Status)
	assert.NotNil(t, stored.ResolvedAt)
	assert.Equal(t, int64(0), f.balance(t, provider.AccountID))

	_, err = f.svc.Approve(ctx, op, req.ID, "")
	assert.ErrorIs(t, err, apperr.ErrRequestExpired)
	assert.Empty(t, f.notifier.Messages())
}

func TestApproveAtExactDeadlineExpires(t *testing.T) {
	withSettings(t, func(s *models.AppSettings) { s.TopUpTTLMinutes = 5 })
	f := setup(t)
	provider := f.account(t, "p@example.com", models.RoleProvider, 0)
	op := f.account(t, "op@example.com", models.RoleOperator, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, provider, 1000)
	require.NoError(t, err)
	f.clock.Advance(5 * time.Minute)

	_, err = f.svc.Approve(ctx, op, req.ID, "")
	assert.ErrorIs(t, err, apperr.ErrRequestExpired)
}

func TestRejectLeavesBalance(t *testing.T) {
	f := setup(t)
	provider := f.account(t, "p@example.com", models.RoleProvider, 250)
	op := f.account(t, "op@example.com", models.RoleOperator, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, provider, 1000)
	require.NoError(t, err)

	rejected, err := f.svc.Reject(ctx, op, req.ID, "no payment received")
	require.NoError(t, err)
	assert.Equal(t, models.TopUpStatusRejected, rejected.Status)
	assert.Equal(t, "no payment received", rejected.OperatorNote)
	assert.Equal(t, int64(250), f.balance(t, provider.AccountID))

	_, err = f.svc.Approve(ctx, op, req.ID, "")
	assert.ErrorIs(t, err, apperr.ErrNotPending)
	assert.Equal(t, int64(250), f.balance(t, provider.AccountID))
	assert.Equal(t, []string{models.NotificationTopUpRejected}, f.notifier.Types())
}

func TestRejectAfterDeadlineReturnsExpired(t *testing.T) {
	withSettings(t, func(s *models.AppSettings) { s.TopUpTTLMinutes = 5 })
	f := setup(t)
	provider := f.account(t, "p@example.com", models.RoleProvider, 0)
	op := f.account(t, "op@example.com", models.RoleOperator, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, provider, 1000)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)

	res, err := f.svc.Reject(ctx, op, req.ID, "late")
	require.NoError(t, err)
	assert.Equal(t, models.TopUpStatusExpired, res.Status)
	assert.Equal(t, models.TopUpStatusExpired, f.reload(t, req.ID).Status)
	assert.Empty(t, f.notifier.Messages())
}

func TestAttestPayment(t *testing.T) {
	withSettings(t, func(s *models.AppSettings) { s.TopUpTTLMinutes = 5 })
	f := setup(t)
	provider := f.account(t, "p@example.com", models.RoleProvider, 0)
	other := f.account(t, "o@example.com", models.RoleProvider, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, provider, 1000)
	require.NoError(t, err)

	_, err = f.svc.AttestPayment(ctx, other, req.ID, "ref 42")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	f.clock.Advance(time.Minute)
	attested, err := f.svc.AttestPayment(ctx, provider, req.ID, "  ref 42 ")
	require.NoError(t, err)
	assert.Equal(t, models.TopUpStatusPending, attested.Status)
	assert.Equal(t, "ref 42", attested.ProofText)
	require.NotNil(t, attested.AttestedAt)
	assert.Equal(t, "ref 42", f.reload(t, req.ID).ProofText)

	f.clock.Advance(5 * time.Minute)
	_, err = f.svc.AttestPayment(ctx, provider, req.ID, "ref 43")
	assert.ErrorIs(t, err, apperr.ErrRequestExpired)
	assert.Equal(t, models.TopUpStatusExpired, f.reload(t, req.ID).Status)
}

func TestConcurrentApproveAndRejectReachOneTerminalState(t *testing.T) {
	f := setup(t)
	provider := f.account(t, "p@example.com", models.RoleProvider, 0)
	op := f.account(t, "op@example.com", models.RoleOperator, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, provider, 1000)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.svc.Approve(ctx, op, req.ID, "")
			} else {
				_, err = f.svc.Reject(ctx, op, req.ID, "")
			}
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, apperr.ErrNotPending)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	stored := f.reload(t, req.ID)
	switch stored.Status {
	case models.TopUpStatusApproved:
		assert.Equal(t, int64(1000), f.balance(t, provider.AccountID))
	case models.TopUpStatusRejected:
		assert.Equal(t, int64(0), f.balance(t, provider.AccountID))
	default:
		t.Fatalf("unexpected status %s", stored.Status)
	}
}

func TestSweepExpiresThenApproveReportsExpired(t *testing.T) {
	withSettings(t, func(s *models.AppSettings) { s.TopUpTTLMinutes = 5 })
	f := setup(t)
	provider := f.account(t, "p@example.com", models.RoleProvider, 0)
	op := f.account(t, "op@example.com", models.RoleOperator, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, provider, 1000)
	require.NoError(t, err)
	f.clock.Advance(6 * time.Minute)

	page, err := f.svc.ListMine(ctx, provider, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, models.TopUpStatusExpired, page.Items[0].Status, "lists sweep before reading")

	_, err = f.svc.Approve(ctx, op, req.ID, "")
	assert.ErrorIs(t, err, apperr.ErrRequestExpired)
}

func TestGetVisibility(t *testing.T) {
	f := setup(t)
	provider := f.account(t, "p@example.com", models.RoleProvider, 0)
	other := f.account(t, "o@example.com", models.RoleRequester, 0)
	op := f.account(t, "op@example.com", models.RoleOperator, 0)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, provider, 1000)
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, provider, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	_, err = f.svc.Get(ctx, op, req.ID)
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, other, req.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestOperatorLists(t *testing.T) {
	f := setup(t)
	provider := f.account(t, "p@example.com", models.RoleProvider, 0)
	op := f.account(t, "op@example.com", models.RoleOperator, 0)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, provider, 1000)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := f.svc.Create(ctx, provider, 2000)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	third, err := f.svc.Create(ctx, provider, 3000)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, op, second.ID, "")
	require.NoError(t, err)

	pending, err := f.svc.ListPending(ctx, op, 1, 10)
	require.NoError(t, err)
	require.Len(t, pending.Items, 2)
	assert.Equal(t, int64(2), pending.Total)
	assert.Equal(t, first.ID, pending.Items[0].ID, "oldest pending first")
	assert.Equal(t, third.ID, pending.Items[1].ID)

	approved, err := f.svc.ListAll(ctx, op, "APPROVED", 1, 10)
	require.NoError(t, err)
	require.Len(t, approved.Items, 1)
	assert.Equal(t, second.ID, approved.Items[0].ID)

	all, err := f.svc.ListAll(ctx, op, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)
	assert.Equal(t, DefaultPerPage, all.PerPage)

	_, err = f.svc.ListAll(ctx, op, "bogus", 1, 10)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.ListPending(ctx, provider, 1, 10)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	mine, err := f.svc.ListMine(ctx, provider, 1, 2)
	require.NoError(t, err)
	assert.Len(t, mine.Items, 2)
	assert.Equal(t, int64(3), mine.Total)
}

func TestTopUpFundsActivation(t *testing.T) {
	f := setup(t)
	provider := f.account(t, "p@example.com", models.RoleProvider, 0)
	op := f.account(t, "op@example.com", models.RoleOperator, 0)
	ctx := context.Background()

	plan := &models.TariffPlan{Name: "Week", PriceMinorUnits: 1000, DurationDays: 7, VisibilityTier: models.TierBasic, IsActive: true}
	require.NoError(t, f.repos.TariffPlan.Create(plan))

	pubs := publication.NewService(f.factory, f.sweeper, publication.Options{Now: f.clock.Now})
	p, err := pubs.Create(ctx, provider, publication.CreateInput{Kind: models.PublicationKindListing, Title: "Roof repair"})
	require.NoError(t, err)

	_, err = pubs.Activate(ctx, provider, p.UUID, plan.ID)
	require.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	req, err := f.svc.Create(ctx, provider, 1000)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, op, req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), f.balance(t, provider.AccountID))

	activated, err := pubs.Activate(ctx, provider, p.UUID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PublicationStatusActive, activated.Status)
	assert.Equal(t, int64(0), f.balance(t, provider.AccountID))
}
