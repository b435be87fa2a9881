package models

import (
	"time"

	"gorm.io/datatypes"
)

// QuizAttempt holds a user's question set and result for one calendar day.
type QuizAttempt struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UserID       uint           `gorm:"uniqueIndex:idx_quiz_user_date,priority:1;not null" json:"user_id"`
	QuizDate     string         `gorm:"size:10;uniqueIndex:idx_quiz_user_date,priority:2;not null" json:"quiz_date"`
	QuestionIDs  datatypes.JSON `json:"question_ids"` // ordered, fixed on first fetch
	Answers      datatypes.JSON `json:"answers,omitempty"`
	Score        int            `gorm:"not null;default:0" json:"score"`
	MaxScore     int            `gorm:"not null;default:0" json:"max_score"`
	CorrectCount int            `gorm:"not null;default:0" json:"correct_count"`
	XPEarned     int64          `gorm:"not null;default:0" json:"xp_earned"`
	CoinsEarned  int64          `gorm:"not null;default:0" json:"coins_earned"`
	CompletedAt  *time.Time     `json:"completed_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
