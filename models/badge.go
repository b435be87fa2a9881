package models

import "time"

// Badge is a catalog achievement. Its unlock predicate lives in code, keyed by Code.
type Badge struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Code         string    `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Name         string    `gorm:"size:128;not null" json:"name"`
	Description  string    `gorm:"size:255" json:"description"`
	IsSecret     bool      `gorm:"not null;default:false" json:"is_secret"`
	RewardPoints int64     `gorm:"not null;default:0" json:"reward_points"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserBadge records an unlocked badge. At most one row per (user, badge).
type UserBadge struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"uniqueIndex:idx_user_badge,priority:1;not null" json:"user_id"`
	BadgeID    uint      `gorm:"uniqueIndex:idx_user_badge,priority:2;not null" json:"badge_id"`
	UnlockedAt time.Time `gorm:"not null" json:"unlocked_at"`
}
