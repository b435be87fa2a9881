package models

import (
	"time"

	"gorm.io/gorm"
)

// Tier is a loyalty membership level derived from lifetime points.
type Tier string

const (
	TierBronze   Tier = "BRONZE"
	TierSilver   Tier = "SILVER"
	TierGold     Tier = "GOLD"
	TierPlatinum Tier = "PLATINUM"
)

// Account is the loyalty aggregate for a single portal user. Balance is a
// materialized running sum of the user's ledger entries and is only written
// in the same transaction as a ledger append.
type Account struct {
	UserID           uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Balance          int64     `gorm:"not null;default:0" json:"balance"`
	LifetimePoints   int64     `gorm:"not null;default:0" json:"lifetime_points"`
	Tier             Tier      `gorm:"size:16;not null;default:'BRONZE'" json:"tier"`
	XP               int64     `gorm:"not null;default:0" json:"xp"`
	StreakCount      int       `gorm:"not null;default:0" json:"streak_count"`
	LongestStreak    int       `gorm:"not null;default:0" json:"longest_streak"`
	LastActivityDate string    `gorm:"size:10" json:"last_activity_date"` // YYYY-MM-DD in the server zone
	ProfileCompleted bool      `gorm:"not null;default:false" json:"profile_completed"`
	PolicyCount      int       `gorm:"not null;default:0" json:"policy_count"`
	ReferralCount    int       `gorm:"not null;default:0" json:"referral_count"`
	ChatUsageCount   int       `gorm:"not null;default:0" json:"chat_usage_count"`
	QuizzesCompleted int       `gorm:"not null;default:0" json:"quizzes_completed"`
	RedemptionCount  int       `gorm:"not null;default:0" json:"redemption_count"`
	Version          int64     `gorm:"not null;default:0" json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// BeforeCreate makes sure a fresh account starts in the entry tier.
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.Tier == "" {
		a.Tier = TierBronze
	}
	return nil
}
