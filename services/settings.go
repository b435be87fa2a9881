package services

import (
	"time"

	"github.com/soriano-club/clubapi/models"
)

// Settings tunes the engine. Zero fields fall back to DefaultSettings.
type Settings struct {
	Location              *time.Location
	StreakMilestoneEvery  int
	StreakMilestonePoints int64
	QuizSize              int
	PerfectQuizBonus      int64
	VoucherPrefix         string
	EventTimeout          time.Duration
	EarnDefaults          map[models.ActionType]int64
}

// DefaultSettings returns the production defaults: UTC days, a 50 point
// milestone every 5 consecutive days, 5-question quizzes.
func DefaultSettings() Settings {
	return Settings{
		Location:              time.UTC,
		StreakMilestoneEvery:  5,
		StreakMilestonePoints: 50,
		QuizSize:              5,
		PerfectQuizBonus:      25,
		VoucherPrefix:         "SOR",
		EventTimeout:          5 * time.Second,
		EarnDefaults: map[models.ActionType]int64{
			models.ActionProfileComplete:    100,
			models.ActionNewPolicy:          100,
			models.ActionReferralConversion: 200,
			models.ActionChatUsage:          5,
		},
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Location == nil {
		s.Location = d.Location
	}
	if s.StreakMilestoneEvery <= 0 {
		s.StreakMilestoneEvery = d.StreakMilestoneEvery
	}
	if s.StreakMilestonePoints <= 0 {
		s.StreakMilestonePoints = d.StreakMilestonePoints
	}
	if s.QuizSize <= 0 {
		s.QuizSize = d.QuizSize
	}
	if s.PerfectQuizBonus < 0 {
		s.PerfectQuizBonus = 0
	}
	if s.VoucherPrefix == "" {
		s.VoucherPrefix = d.VoucherPrefix
	}
	if s.EventTimeout <= 0 {
		s.EventTimeout = d.EventTimeout
	}
	if s.EarnDefaults == nil {
		s.EarnDefaults = d.EarnDefaults
	}
	return s
}
