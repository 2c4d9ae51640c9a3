package repository

import (
	"time"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type rateLimitWindowRepository struct {
	db *gorm.DB
}

// NewRateLimitWindowRepository creates a new rate limit window repository instance
func NewRateLimitWindowRepository(db *gorm.DB) RateLimitWindowRepository {
	return &rateLimitWindowRepository{db: db}
}

// Upsert inserts or replaces the window for (action, actor_key).
func (r *rateLimitWindowRepository) Upsert(window *models.RateLimitWindow) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "action"}, {Name: "actor_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"hits", "window_start", "window_end", "updated_at"}),
	}).Create(window).Error
}

func (r *rateLimitWindowRepository) Get(action, actorKey string) (*models.RateLimitWindow, error) {
	var w models.RateLimitWindow
	if err := r.db.Where("action = ? AND actor_key = ?", action, actorKey).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *rateLimitWindowRepository) DeleteEndedBefore(t time.Time) (int64, error) {
	res := r.db.Where("window_end < ?", t).Delete(&models.RateLimitWindow{})
	return res.RowsAffected, res.Error
}
