package statistics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/cache"
)

const (
	CacheKeySnapshot = "statistics:snapshot"
	CacheExpiration  = 30 * time.Minute
)

// Snapshot holds the marketplace figures shown on the operator dashboard.
// Day based figures cover the current UTC day.
type Snapshot struct {
	Accounts                int64     `json:"accounts"`
	BannedAccounts          int64     `json:"banned_accounts"`
	ActivePublications      int64     `json:"active_publications"`
	PausedPublications      int64     `json:"paused_publications"`
	CompletedPublications   int64     `json:"completed_publications"`
	PendingTopUps           int64     `json:"pending_topups"`
	CreditedTodayMinorUnits int64     `json:"credited_today_minor_units"`
	SpentTodayMinorUnits    int64     `json:"spent_today_minor_units"`
	BalanceTotalMinorUnits  int64     `json:"balance_total_minor_units"`
	GeneratedAt             time.Time `json:"generated_at"`
}

// Service computes snapshots and keeps the last one in the cache.
type Service struct {
	factory        *repository.Factory
	useCache       bool
	updateInterval time.Duration
	now            func() time.Time

	mu         sync.Mutex
	lastUpdate time.Time
}

// New creates the service. With useCache false every call hits the database.
func New(factory *repository.Factory, useCache bool) *Service {
	return &Service{
		factory:        factory,
		useCache:       useCache,
		updateInterval: 5 * time.Minute,
		now:            time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ShouldUpdateCache reports whether the cached snapshot is older than the
// update interval.
func (s *Service) ShouldUpdateCache() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastUpdate) > s.updateInterval
}

// ResetCacheUpdateTimer forces the next Get to recompute.
func (s *Service) ResetCacheUpdateTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUpdate = time.Time{}
}

// Get returns the cached snapshot, recomputing it when stale or missing.
func (s *Service) Get(ctx context.Context) (Snapshot, error) {
	if s.useCache && !s.ShouldUpdateCache() {
		var snap Snapshot
		err := cache.GetJSON(ctx, CacheKeySnapshot, &snap)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			log.Warnf("[Statistics] cache read failed: %v", err)
		}
	}

	snap, err := s.Compute(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	if s.useCache {
		if err := cache.SetJSON(ctx, CacheKeySnapshot, snap, CacheExpiration); err != nil {
			log.Warnf("[Statistics] cache write failed: %v", err)
		} else {
			s.mu.Lock()
			s.lastUpdate = s.now()
			s.mu.Unlock()
		}
	}
	return snap, nil
}

// Compute reads every figure from the database.
func (s *Service) Compute(ctx context.Context) (Snapshot, error) {
	db := s.factory.DB().WithContext(ctx)
	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	snap := Snapshot{GeneratedAt: now.Truncate(time.Second)}

	counts := []struct {
		dst   *int64
		model interface{}
		where string
		args  []interface{}
	}{
		{&snap.Accounts, &models.Account{}, "", nil},
		{&snap.BannedAccounts, &models.Account{}, "is_banned = ?", []interface{}{true}},
		{&snap.ActivePublications, &models.Publication{}, "status = ?", []interface{}{models.PublicationStatusActive}},
		{&snap.PausedPublications, &models.Publication{}, "status = ?", []interface{}{models.PublicationStatusPaused}},
		{&snap.CompletedPublications, &models.Publication{}, "status = ?", []interface{}{models.PublicationStatusCompleted}},
		{&snap.PendingTopUps, &models.TopUpRequest{}, "status = ?", []interface{}{models.TopUpStatusPending}},
	}
	for _, c := range counts {
		q := db.Model(c.model)
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return Snapshot{}, fmt.Errorf("statistics: count: %w", err)
		}
	}

	var err error
	if snap.CreditedTodayMinorUnits, err = sumDeltas(db, dayStart, dayEnd, "delta_minor_units > 0"); err != nil {
		return Snapshot{}, err
	}
	spent, err := sumDeltas(db, dayStart, dayEnd, "delta_minor_units < 0")
	if err != nil {
		return Snapshot{}, err
	}
	snap.SpentTodayMinorUnits = -spent

	if err := db.Model(&models.Account{}).Select("COALESCE(SUM(balance_minor_units), 0)").Scan(&snap.BalanceTotalMinorUnits).Error; err != nil {
		return Snapshot{}, fmt.Errorf("statistics: balance total: %w", err)
	}

	return snap, nil
}

func sumDeltas(db *gorm.DB, from, to time.Time, cond string) (int64, error) {
	var total int64
	err := db.Model(&models.BalanceEntry{}).
		Select("COALESCE(SUM(delta_minor_units), 0)").
		Where("created_at >= ? AND created_at < ?", from, to).
		Where(cond).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("statistics: sum balance entries: %w", err)
	}
	return total, nil
}
