package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/soriano-club/clubapi/models"
)

// evaluation passes are bounded; a badge reward can satisfy another badge.
const maxEvaluationPasses = 3

// Stats is the snapshot badge criteria are evaluated against.
type Stats struct {
	Account    models.Account
	BadgeCount int
}

// Criteria decides whether a badge is earned.
type Criteria func(Stats) bool

// BadgeDefinition is a catalog badge with its unlock predicate.
type BadgeDefinition struct {
	Code         string
	Name         string
	Description  string
	Secret       bool
	RewardPoints int64
	Criteria     Criteria
}

// UnlockedBadge is a badge newly unlocked by an evaluation.
type UnlockedBadge struct {
	Badge      models.Badge  `json:"badge"`
	UnlockedAt time.Time     `json:"unlocked_at"`
	Reward     *AppendResult `json:"-"`
}

// BadgeStatus is one row of a user's badge list.
type BadgeStatus struct {
	Badge      models.Badge `json:"badge"`
	Unlocked   bool         `json:"unlocked"`
	UnlockedAt *time.Time   `json:"unlocked_at,omitempty"`
}

// Achievements evaluates badge criteria and unlocks badges idempotently.
type Achievements struct {
	db     *gorm.DB
	ledger *Ledger
	defs   map[string]BadgeDefinition
	order  []string
	clock  Clock
	log    *zap.SugaredLogger
}

// NewAchievements creates an evaluator over the given badge catalog.
func NewAchievements(db *gorm.DB, ledger *Ledger, defs []BadgeDefinition, clock Clock, log *zap.SugaredLogger) *Achievements {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = SystemClock()
	}
	a := &Achievements{db: db, ledger: ledger, defs: make(map[string]BadgeDefinition, len(defs)), clock: clock, log: log}
	for _, d := range defs {
		if _, dup := a.defs[d.Code]; dup {
			continue
		}
		a.defs[d.Code] = d
		a.order = append(a.order, d.Code)
	}
	return a
}

// SyncBadges upserts the code-defined catalog into the badges table.
func (a *Achievements) SyncBadges(ctx context.Context) error {
	db := a.db.WithContext(ctx)
	for _, code := range a.order {
		d := a.defs[code]
		row := models.Badge{
			Code:         d.Code,
			Name:         d.Name,
			Description:  d.Description,
			IsSecret:     d.Secret,
			RewardPoints: d.RewardPoints,
		}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "is_secret", "reward_points", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return mapStoreError("achievements.sync", err)
		}
	}
	return nil
}

// evalCriteria runs a predicate, turning a panic into ErrBadgeCriteria.
func evalCriteria(def BadgeDefinition, stats Stats) (ok bool, err error) {
	if def.Criteria == nil {
		return false, fmt.Errorf("%w: badge %s has no criteria", ErrBadgeCriteria, def.Code)
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("%w: badge %s: %v", ErrBadgeCriteria, def.Code, r)
		}
	}()
	return def.Criteria(stats), nil
}

// Evaluate unlocks every badge whose criteria now hold for userID. Badges are
// never unlocked twice; a failing predicate is reported but does not stop the others.
func (a *Achievements) Evaluate(ctx context.Context, userID uint) ([]UnlockedBadge, error) {
	var (
		unlocked []UnlockedBadge
		errs     []error
		seen     = map[string]bool{}
	)
	for pass := 0; pass < maxEvaluationPasses; pass++ {
		got, passErrs, err := a.evaluateOnce(ctx, userID)
		if err != nil {
			return unlocked, err
		}
		unlocked = append(unlocked, got...)
		// a predicate that keeps failing is reported once
		for _, e := range passErrs {
			if msg := e.Error(); !seen[msg] {
				seen[msg] = true
				errs = append(errs, e)
			}
		}
		if len(got) == 0 {
			break
		}
	}
	return unlocked, errors.Join(errs...)
}

func (a *Achievements) evaluateOnce(ctx context.Context, userID uint) ([]UnlockedBadge, []error, error) {
	db := a.db.WithContext(ctx)

	var badges []models.Badge
	if err := db.Order("id ASC").Find(&badges).Error; err != nil {
		return nil, nil, mapStoreError("achievements.badges", err)
	}
	var held []models.UserBadge
	if err := db.Where("user_id = ?", userID).Find(&held).Error; err != nil {
		return nil, nil, mapStoreError("achievements.held", err)
	}
	heldSet := make(map[uint]bool, len(held))
	for _, h := range held {
		heldSet[h.BadgeID] = true
	}

	acct, err := a.ledger.Account(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	stats := Stats{Account: acct, BadgeCount: len(held)}

	var (
		out  []UnlockedBadge
		errs []error
	)
	for _, b := range badges {
		if heldSet[b.ID] {
			continue
		}
		def, ok := a.defs[b.Code]
		if !ok {
			continue
		}
		earned, err := evalCriteria(def, stats)
		if err != nil {
			a.log.Warnw("badge criteria failed", "user_id", userID, "badge", b.Code, "error", err)
			errs = append(errs, err)
			continue
		}
		if !earned {
			continue
		}
		u, err := a.unlock(ctx, userID, b)
		if err != nil {
			return out, errs, err
		}
		if u != nil {
			out = append(out, *u)
		}
	}
	return out, errs, nil
}

// unlock inserts the user badge if absent and, for badges carrying points,
// appends the reward in the same transaction. It returns nil when another
// request unlocked the badge first.
func (a *Achievements) unlock(ctx context.Context, userID uint, b models.Badge) (*UnlockedBadge, error) {
	var out *UnlockedBadge
	err := a.ledger.inTx(ctx, userID, func(tx *gorm.DB) error {
		out = nil
		now := a.clock.Now()
		ub := models.UserBadge{UserID: userID, BadgeID: b.ID, UnlockedAt: now}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ub)
		if res.Error != nil {
			return mapStoreError("achievements.unlock", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		u := &UnlockedBadge{Badge: b, UnlockedAt: now}
		if b.RewardPoints > 0 {
			app, err := a.ledger.appendInTx(tx, userID, entryRequest{
				action:      models.ActionBadgeReward,
				delta:       b.RewardPoints,
				description: "Badge unlocked: " + b.Name,
				key:         "badge:" + b.Code,
			})
			if err != nil {
				return err
			}
			u.Reward = app
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		a.log.Infow("badge unlocked", "user_id", userID, "badge", b.Code, "reward", b.RewardPoints)
	}
	return out, nil
}

// ListBadges returns the whole catalog with the user's unlock state. Locked
// secret badges are masked.
func (a *Achievements) ListBadges(ctx context.Context, userID uint) ([]BadgeStatus, error) {
	db := a.db.WithContext(ctx)
	var badges []models.Badge
	if err := db.Order("id ASC").Find(&badges).Error; err != nil {
		return nil, mapStoreError("achievements.list", err)
	}
	var held []models.UserBadge
	if err := db.Where("user_id = ?", userID).Find(&held).Error; err != nil {
		return nil, mapStoreError("achievements.list_held", err)
	}
	at := make(map[uint]time.Time, len(held))
	for _, h := range held {
		at[h.BadgeID] = h.UnlockedAt
	}

	out := make([]BadgeStatus, 0, len(badges))
	for _, b := range badges {
		st := BadgeStatus{Badge: b}
		if t, ok := at[b.ID]; ok {
			t := t
			st.Unlocked = true
			st.UnlockedAt = &t
		} else if b.IsSecret {
			st.Badge.Name = "???"
			st.Badge.Description = "Keep exploring the club to reveal this badge."
			st.Badge.RewardPoints = 0
		}
		out = append(out, st)
	}
	return out, nil
}
