// Package tariff serves the catalog of tariff plans.
package tariff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/cache"
)

const (
	activeCacheKey = "tariff:active"
	activeCacheTTL = 5 * time.Minute
)

// PlanCache stores the active plan list. The catalog never depends on it
// for correctness; any error falls back to the database.
type PlanCache interface {
	Load(ctx context.Context) ([]models.TariffPlan, error)
	Store(ctx context.Context, plans []models.TariffPlan) error
	Invalidate(ctx context.Context) error
}

// RedisPlanCache keeps the active list as JSON in the shared cache.
type RedisPlanCache struct{}

func (RedisPlanCache) Load(ctx context.Context) ([]models.TariffPlan, error) {
	var plans []models.TariffPlan
	if err := cache.GetJSON(ctx, activeCacheKey, &plans); err != nil {
		return nil, err
	}
	return plans, nil
}

func (RedisPlanCache) Store(ctx context.Context, plans []models.TariffPlan) error {
	return cache.SetJSON(ctx, activeCacheKey, plans, activeCacheTTL)
}

func (RedisPlanCache) Invalidate(ctx context.Context) error {
	return cache.GetClient().Del(ctx, activeCacheKey).Err()
}

// PlanInput carries operator supplied plan attributes.
type PlanInput struct {
	Name            string                `json:"name" validate:"required,min=2,max=100"`
	Description     string                `json:"description" validate:"max=1000"`
	PriceMinorUnits int64                 `json:"price_minor_units" validate:"gte=0"`
	DiscountPercent int                   `json:"discount_percent" validate:"gte=0,lte=100"`
	DurationDays    int                   `json:"duration_days" validate:"gt=0"`
	VisibilityTier  models.VisibilityTier `json:"visibility_tier" validate:"required"`
	SortOrder       int                   `json:"sort_order"`
	IsActive        *bool                 `json:"is_active,omitempty"`
}

// Catalog is the read-mostly tariff catalog.
type Catalog struct {
	factory *repository.Factory
	cache   PlanCache
}

// NewCatalog creates a catalog. A nil cache disables caching.
func NewCatalog(factory *repository.Factory, planCache PlanCache) *Catalog {
	return &Catalog{factory: factory, cache: planCache}
}

// EffectivePrice returns the discounted price in minor units.
func EffectivePrice(plan *models.TariffPlan) int64 {
	return plan.EffectivePrice()
}

// ListActive returns active plans ordered by sort order, then price.
func (c *Catalog) ListActive(ctx context.Context) ([]models.TariffPlan, error) {
	if c.cache != nil {
		plans, err := c.cache.Load(ctx)
		if err == nil {
			return plans, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			log.Warnf("[Tariff] cache read failed, using database: %v", err)
		}
	}

	plans, err := c.factory.WithContext(ctx).TariffPlan.ListActive()
	if err != nil {
		return nil, fmt.Errorf("list active tariff plans: %w", err)
	}
	if c.cache != nil {
		if err := c.cache.Store(ctx, plans); err != nil {
			log.Warnf("[Tariff] cache write failed: %v", err)
		}
	}
	return plans, nil
}

// ListAll returns every plan including inactive ones.
func (c *Catalog) ListAll(ctx context.Context) ([]models.TariffPlan, error) {
	plans, err := c.factory.WithContext(ctx).TariffPlan.ListAll()
	if err != nil {
		return nil, fmt.Errorf("list tariff plans: %w", err)
	}
	return plans, nil
}

// Get returns a plan regardless of its active flag.
func (c *Catalog) Get(ctx context.Context, id uint) (*models.TariffPlan, error) {
	return get(c.factory.WithContext(ctx), id)
}

// Resolve returns a plan that may be purchased.
func (c *Catalog) Resolve(ctx context.Context, id uint) (*models.TariffPlan, error) {
	return Resolve(c.factory.WithContext(ctx), id)
}

// Resolve loads the plan through repos, which may be transaction scoped,
// and fails unless it exists and is active.
func Resolve(repos *repository.Repositories, id uint) (*models.TariffPlan, error) {
	plan, err := get(repos, id)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, apperr.ErrTariffInactive
	}
	return plan, nil
}

func get(repos *repository.Repositories, id uint) (*models.TariffPlan, error) {
	plan, err := repos.TariffPlan.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrTariffNotFound
		}
		return nil, fmt.Errorf("load tariff plan %d: %w", id, err)
	}
	return plan, nil
}

// Create adds a plan. New plans are active unless IsActive says otherwise.
func (c *Catalog) Create(ctx context.Context, in PlanInput) (*models.TariffPlan, error) {
	plan := &models.TariffPlan{IsActive: true}
	in.applyTo(plan)
	if in.IsActive != nil {
		plan.IsActive = *in.IsActive
	}
	if err := plan.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "invalid tariff plan", err)
	}
	if err := c.factory.WithContext(ctx).TariffPlan.Create(plan); err != nil {
		return nil, fmt.Errorf("create tariff plan: %w", err)
	}
	c.invalidate(ctx)
	log.Infof("[Tariff] plan %d %q created (price=%d discount=%d%%)", plan.ID, plan.Name, plan.PriceMinorUnits, plan.DiscountPercent)
	return plan, nil
}

// Update changes descriptive and pricing attributes. Existing assignments
// keep the price they paid.
func (c *Catalog) Update(ctx context.Context, id uint, in PlanInput) (*models.TariffPlan, error) {
	repos := c.factory.WithContext(ctx)
	plan, err := get(repos, id)
	if err != nil {
		return nil, err
	}
	in.applyTo(plan)
	if err := plan.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "invalid tariff plan", err)
	}
	if err := repos.TariffPlan.Update(plan); err != nil {
		return nil, fmt.Errorf("update tariff plan %d: %w", id, err)
	}
	if in.IsActive != nil && *in.IsActive != plan.IsActive {
		if err := repos.TariffPlan.SetActive(id, *in.IsActive); err != nil {
			return nil, fmt.Errorf("update tariff plan %d: %w", id, err)
		}
		plan.IsActive = *in.IsActive
	}
	c.invalidate(ctx)
	return plan, nil
}

// Deactivate hides a plan from purchase. Plans are never deleted.
func (c *Catalog) Deactivate(ctx context.Context, id uint) (*models.TariffPlan, error) {
	return c.setActive(ctx, id, false)
}

// Reactivate makes a deactivated plan purchasable again.
func (c *Catalog) Reactivate(ctx context.Context, id uint) (*models.TariffPlan, error) {
	return c.setActive(ctx, id, true)
}

func (c *Catalog) setActive(ctx context.Context, id uint, active bool) (*models.TariffPlan, error) {
	repos := c.factory.WithContext(ctx)
	plan, err := get(repos, id)
	if err != nil {
		return nil, err
	}
	if plan.IsActive != active {
		if err := repos.TariffPlan.SetActive(id, active); err != nil {
			return nil, fmt.Errorf("set tariff plan %d active=%t: %w", id, active, err)
		}
		plan.IsActive = active
		c.invalidate(ctx)
		log.Infof("[Tariff] plan %d active=%t", id, active)
	}
	return plan, nil
}

func (c *Catalog) invalidate(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx); err != nil {
		log.Warnf("[Tariff] cache invalidation failed: %v", err)
	}
}

func (in PlanInput) applyTo(plan *models.TariffPlan) {
	plan.Name = strings.TrimSpace(in.Name)
	plan.Description = strings.TrimSpace(in.Description)
	plan.PriceMinorUnits = in.PriceMinorUnits
	plan.DiscountPercent = in.DiscountPercent
	plan.DurationDays = in.DurationDays
	plan.VisibilityTier = models.VisibilityTier(strings.ToLower(string(in.VisibilityTier)))
	plan.SortOrder = in.SortOrder
}
