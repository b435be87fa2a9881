package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/soriano-club/clubapi/models"
)

// StreakResult describes what a check-in did.
type StreakResult struct {
	Date            string          `json:"date"`
	StreakCount     int             `json:"streak_count"`
	LongestStreak   int             `json:"longest_streak"`
	Counted         bool            `json:"counted"` // false when today was already counted
	Reset           bool            `json:"reset"`
	MilestoneReward int64           `json:"milestone_reward"`
	Unlocked        []UnlockedBadge `json:"unlocked_badges,omitempty"`
	Append          *AppendResult   `json:"-"`
}

// Streaks tracks consecutive days of engagement per user.
type Streaks struct {
	ledger *Ledger
	clock  Clock
	loc    *time.Location
	every  int
	points int64
	log    *zap.SugaredLogger
}

// NewStreaks creates a streak tracker that awards points every `every` consecutive days.
func NewStreaks(ledger *Ledger, clock Clock, loc *time.Location, every int, points int64, log *zap.SugaredLogger) *Streaks {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Streaks{ledger: ledger, clock: clock, loc: loc, every: every, points: points, log: log}
}

// CheckIn records the first qualifying activity of the day for userID.
func (s *Streaks) CheckIn(ctx context.Context, userID uint) (*StreakResult, error) {
	today := dayOf(s.clock.Now(), s.loc)
	yesterday, err := previousDay(today, s.loc)
	if err != nil {
		return nil, err
	}

	var out *StreakResult
	err = s.ledger.inTx(ctx, userID, func(tx *gorm.DB) error {
		acct, err := lockAccount(tx, userID)
		if err != nil {
			return err
		}
		res := &StreakResult{Date: today, StreakCount: acct.StreakCount, LongestStreak: acct.LongestStreak}

		// A date ahead of today only happens after a clock correction; do not count twice.
		if acct.LastActivityDate != "" && acct.LastActivityDate >= today {
			out = res
			return nil
		}

		count := 1
		if acct.LastActivityDate == yesterday {
			count = acct.StreakCount + 1
		} else if acct.LastActivityDate != "" {
			res.Reset = true
		}
		longest := acct.LongestStreak
		if count > longest {
			longest = count
		}

		upd := tx.Model(&models.Account{}).
			Where("user_id = ? AND version = ?", userID, acct.Version).
			Updates(map[string]interface{}{
				"streak_count":       count,
				"longest_streak":     longest,
				"last_activity_date": today,
				"version":            gorm.Expr("version + 1"),
			})
		if upd.Error != nil {
			return mapStoreError("streak.update", upd.Error)
		}
		if upd.RowsAffected == 0 {
			return fmt.Errorf("%w: streak for user %d", ErrConcurrentModification, userID)
		}

		res.StreakCount = count
		res.LongestStreak = longest
		res.Counted = true

		if s.every > 0 && s.points > 0 && count%s.every == 0 {
			app, err := s.ledger.appendInTx(tx, userID, entryRequest{
				action:      models.ActionDailyLogin,
				delta:       s.points,
				description: fmt.Sprintf("%d-day streak bonus", count),
				key:         "streak:" + today,
			})
			if err != nil {
				return err
			}
			res.MilestoneReward = s.points
			res.Append = app
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Counted {
		s.log.Infow("streak check-in",
			"user_id", userID,
			"date", today,
			"streak", out.StreakCount,
			"milestone_reward", out.MilestoneReward,
		)
	}
	return out, nil
}
