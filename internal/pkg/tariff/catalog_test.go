package tariff

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/cache"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/cache/cachetest"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/database/dbtest"
)

type memoryCache struct {
	mu          sync.Mutex
	plans       []models.TariffPlan
	loaded      bool
	loads       int
	invalidated int
	failLoad    bool
}

func (m *memoryCache) Load(ctx context.Context) ([]models.TariffPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.failLoad {
		return nil, errors.New("connection refused")
	}
	if !m.loaded {
		return nil, cache.ErrMiss
	}
	return m.plans, nil
}

func (m *memoryCache) Store(ctx context.Context, plans []models.TariffPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans, m.loaded = plans, true
	return nil
}

func (m *memoryCache) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans, m.loaded = nil, false
	m.invalidated++
	return nil
}

func newCatalog(t *testing.T, c PlanCache) *Catalog {
	t.Helper()
	return NewCatalog(repository.NewFactory(dbtest.Open(t)), c)
}

func basicInput(name string, price int64) PlanInput {
	return PlanInput{Name: name, PriceMinorUnits: price, DurationDays: 7, VisibilityTier: models.TierBasic}
}

func TestCreateValidatesInput(t *testing.T) {
	c := newCatalog(t, nil)
	ctx := context.Background()

	in := basicInput("Basic", 500)
	in.DiscountPercent = 120
	_, err := c.Create(ctx, in)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	in = basicInput("Basic", 500)
	in.VisibilityTier = "Diamond"
	_, err = c.Create(ctx, in)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	in = basicInput("Basic", 500)
	in.VisibilityTier = "PREMIUM"
	plan, err := c.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, models.TierPremium, plan.VisibilityTier)
	assert.True(t, plan.IsActive)
}

func TestResolveReportsMissingAndInactive(t *testing.T) {
	c := newCatalog(t, nil)
	ctx := context.Background()

	_, err := c.Resolve(ctx, 42)
	assert.ErrorIs(t, err, apperr.ErrTariffNotFound)

	plan, err := c.Create(ctx, basicInput("Basic", 500))
	require.NoError(t, err)
	_, err = c.Deactivate(ctx, plan.ID)
	require.NoError(t, err)

	_, err = c.Resolve(ctx, plan.ID)
	assert.ErrorIs(t, err, apperr.ErrTariffInactive)

	got, err := c.Get(ctx, plan.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	_, err = c.Reactivate(ctx, plan.ID)
	require.NoError(t, err)
	resolved, err := c.Resolve(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, resolved.ID)
}

func TestListActiveUsesCacheAndInvalidatesOnMutation(t *testing.T) {
	mc := &memoryCache{}
	c := newCatalog(t, mc)
	ctx := context.Background()

	cheap, err := c.Create(ctx, basicInput("Cheap", 100))
	require.NoError(t, err)
	_, err = c.Create(ctx, basicInput("Pricey", 900))
	require.NoError(t, err)

	plans, err := c.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "Cheap", plans[0].Name)
	assert.True(t, mc.loaded)

	_, err = c.Deactivate(ctx, cheap.ID)
	require.NoError(t, err)
	assert.False(t, mc.loaded)

	plans, err = c.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "Pricey", plans[0].Name)

	all, err := c.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListActiveFallsBackWhenCacheFails(t *testing.T) {
	mc := &memoryCache{failLoad: true}
	c := newCatalog(t, mc)
	ctx := context.Background()

	_, err := c.Create(ctx, basicInput("Basic", 100))
	require.NoError(t, err)

	plans, err := c.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestUpdateChangesPriceAndFlag(t *testing.T) {
	c := newCatalog(t, nil)
	ctx := context.Background()
	plan, err := c.Create(ctx, basicInput("Basic", 500))
	require.NoError(t, err)

	off := false
	in := basicInput("Basic+", 500)
	in.DiscountPercent = 20
	in.IsActive = &off
	updated, err := c.Update(ctx, plan.ID, in)
	require.NoError(t, err)
	assert.Equal(t, int64(400), EffectivePrice(updated))
	assert.False(t, updated.IsActive)

	_, err = c.Update(ctx, 999, in)
	assert.ErrorIs(t, err, apperr.ErrTariffNotFound)
}

func TestRedisPlanCache(t *testing.T) {
	cache.SetClient(cachetest.NewIsolatedClient(t, 11))
	ctx := context.Background()
	rc := RedisPlanCache{}

	_, err := rc.Load(ctx)
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, rc.Store(ctx, []models.TariffPlan{{ID: 1, Name: "Gold", PriceMinorUnits: 3000, VisibilityTier: models.TierGold}}))
	plans, err := rc.Load(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, models.TierGold, plans[0].VisibilityTier)

	require.NoError(t, rc.Invalidate(ctx))
	_, err = rc.Load(ctx)
	assert.ErrorIs(t, err, cache.ErrMiss)
}
