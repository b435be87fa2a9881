package models

import "time"

// ActionType classifies what caused a ledger entry.
type ActionType string

const (
	ActionProfileComplete    ActionType = "PROFILE_COMPLETE"
	ActionNewPolicy          ActionType = "NEW_POLICY"
	ActionReferralConversion ActionType = "REFERRAL_CONVERSION"
	ActionChatUsage          ActionType = "CHAT_USAGE"
	ActionDailyLogin         ActionType = "DAILY_LOGIN"
	ActionQuizReward         ActionType = "QUIZ_REWARD"
	ActionRedemption         ActionType = "REDEMPTION"
	ActionBadgeReward        ActionType = "BADGE_REWARD"
)

// LedgerEntry is an immutable point movement. Rows are only ever inserted.
type LedgerEntry struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"index;uniqueIndex:idx_ledger_user_key,priority:1;not null" json:"user_id"`
	ActionType     ActionType `gorm:"size:32;index;not null" json:"action_type"`
	Delta          int64      `gorm:"not null" json:"delta"`
	BalanceAfter   int64      `gorm:"not null" json:"balance_after"`
	Description    string     `gorm:"size:255" json:"description"`
	IdempotencyKey *string    `gorm:"size:96;uniqueIndex:idx_ledger_user_key,priority:2" json:"-"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
}
