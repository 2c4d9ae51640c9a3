package sweep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/database/dbtest"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type fixture struct {
	factory *repository.Factory
	repos   *repository.Repositories
	sweeper *Sweeper
	owner   *models.Account
}

func setup(t *testing.T) *fixture {
	t.Helper()
	factory := repository.NewFactory(dbtest.Open(t))
	repos := factory.GetRepositories()
	owner := &models.Account{Name: "Owner", Email: "owner@example.com", Role: models.RoleProvider}
	require.NoError(t, repos.Account.Create(owner))
	return &fixture{
		factory: factory,
		repos:   repos,
		sweeper: New(factory).WithClock(func() time.Time { return now }),
		owner:   owner,
	}
}

func (f *fixture) publication(t *testing.T, status string, expiresAt time.Time) *models.Publication {
	t.Helper()
	p := &models.Publication{OwnerID: f.owner.ID, Kind: models.PublicationKindListing, Title: "Garden work", Status: status, ExpiresAt: &expiresAt}
	require.NoError(t, f.repos.Publication.Create(p))
	return p
}

func (f *fixture) assignment(t *testing.T, pubID uint, endsAt time.Time) *models.TariffAssignment {
	t.Helper()
	a := &models.TariffAssignment{
		PublicationID: pubID, TariffPlanID: 1, VisibilityTier: models.TierBasic,
		StartsAt: endsAt.Add(-24 * time.Hour), EndsAt: endsAt,
		Status: models.AssignmentStatusActive, ActiveSlot: models.ActiveSlotValue(),
	}
	require.NoError(t, f.repos.Assignment.Create(a))
	return a
}

func (f *fixture) topUp(t *testing.T, expiresAt time.Time) *models.TopUpRequest {
	t.Helper()
	r := &models.TopUpRequest{AccountID: f.owner.ID, AmountMinorUnits: 500, Currency: "EUR", Status: models.TopUpStatusPending, ExpiresAt: expiresAt}
	require.NoError(t, f.repos.TopUp.Create(r))
	return r
}

func TestSweepExpiresEverythingPastDeadline(t *testing.T) {
	f := setup(t)

	expired := f.publication(t, models.PublicationStatusActive, now.Add(-time.Minute))
	f.assignment(t, expired.ID, now.Add(-time.Minute))
	live := f.publication(t, models.PublicationStatusActive, now.Add(time.Hour))
	f.assignment(t, live.ID, now.Add(time.Hour))
	exact := f.publication(t, models.PublicationStatusActive, now)
	completed := f.publication(t, models.PublicationStatusCompleted, now.Add(-time.Hour))

	staleTopUp := f.topUp(t, now.Add(-time.Second))
	freshTopUp := f.topUp(t, now.Add(time.Minute))

	res, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.PublicationsPaused)
	assert.Equal(t, int64(1), res.AssignmentsExpired)
	assert.Equal(t, int64(1), res.TopUpsExpired)
	assert.Equal(t, int64(4), res.Total())

	status := func(id uint) string {
		p, err := f.repos.Publication.GetByID(id)
		require.NoError(t, err)
		return p.Status
	}
	assert.Equal(t, models.PublicationStatusPaused, status(expired.ID))
	assert.Equal(t, models.PublicationStatusPaused, status(exact.ID))
	assert.Equal(t, models.PublicationStatusActive, status(live.ID))
	assert.Equal(t, models.PublicationStatusCompleted, status(completed.ID))

	n, err := f.repos.Assignment.CountActiveByPublication(expired.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = f.repos.Assignment.CountActiveByPublication(live.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.repos.TopUp.GetByID(staleTopUp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TopUpStatusExpired, got.Status)
	require.NotNil(t, got.ResolvedAt)
	got, err = f.repos.TopUp.GetByID(freshTopUp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TopUpStatusPending, got.Status)
}

func TestSweepTwiceEqualsSweepOnce(t *testing.T) {
	f := setup(t)
	p := f.publication(t, models.PublicationStatusActive, now.Add(-time.Minute))
	f.assignment(t, p.ID, now.Add(-time.Minute))
	f.topUp(t, now.Add(-time.Minute))

	first, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), first.Total())

	second, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, second)
}

func TestLazyCoalescesConcurrentCallers(t *testing.T) {
	f := setup(t)
	for i := 0; i < 3; i++ {
		f.publication(t, models.PublicationStatusActive, now.Add(-time.Minute))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var paused int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.sweeper.Lazy(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			if res.PublicationsPaused > paused {
				paused = res.PublicationsPaused
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), paused)
	active, err := f.repos.Publication.CountPublic("")
	require.NoError(t, err)
	assert.Zero(t, active)
}

func TestLazyHonoursCancelledContext(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sweeper.Lazy(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweepPurgesOldRateLimitWindows(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.repos.RateLimitWindow.Upsert(&models.RateLimitWindow{
		Action: "topup.create", ActorKey: "1", Hits: 2,
		WindowStart: now.Add(-49 * time.Hour), WindowEnd: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, f.repos.RateLimitWindow.Upsert(&models.RateLimitWindow{
		Action: "topup.create", ActorKey: "2", Hits: 1,
		WindowStart: now.Add(-time.Minute), WindowEnd: now.Add(time.Hour),
	}))

	ctx := context.Background()
	res, err := f.sweeper.Lazy(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.RateLimitWindowsPurged, "read paths leave the mirror alone")
	var rows int64
	require.NoError(t, f.factory.DB().Model(&models.RateLimitWindow{}).Count(&rows).Error)
	assert.Equal(t, int64(2), rows)

	res, err = f.sweeper.Manual(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RateLimitWindowsPurged)
	assert.Zero(t, res.Total())

	require.NoError(t, f.repos.RateLimitWindow.Upsert(&models.RateLimitWindow{
		Action: "topup.create", ActorKey: "3", Hits: 1,
		WindowStart: now.Add(-50 * time.Hour), WindowEnd: now.Add(-49 * time.Hour),
	}))
	res, err = f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RateLimitWindowsPurged)
}
