package models

import "time"

// RateLimitWindow mirrors a limiter window for auditing. Best effort only,
// the limiter never reads it back.
type RateLimitWindow struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Action      string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_rate_limit_windows_action_actor,priority:1" json:"action"`
	ActorKey    string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_rate_limit_windows_action_actor,priority:2" json:"actor_key"`
	Hits        int64     `gorm:"not null" json:"hits"`
	WindowStart time.Time `gorm:"type:timestamp;not null" json:"window_start"`
	WindowEnd   time.Time `gorm:"type:timestamp;not null;index" json:"window_end"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
