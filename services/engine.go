package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/soriano-club/clubapi/models"
)

// earnActions are the actions callers may award directly through Earn.
var earnActions = map[models.ActionType]string{
	models.ActionProfileComplete:    "Profile completed",
	models.ActionNewPolicy:          "New policy",
	models.ActionReferralConversion: "Referral converted",
	models.ActionChatUsage:          "Assistant conversation",
}

var descriptionPolicy = bluemonday.StrictPolicy()

// plainText strips markup and returns unescaped text; ledger descriptions are
// stored as plain text.
func plainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(descriptionPolicy.Sanitize(s)))
}

// Options wires an Engine.
type Options struct {
	DB        *gorm.DB
	Log       *zap.SugaredLogger
	Clock     Clock
	Cache     BalanceCache
	Notifier  Notifier
	Settings  Settings
	Questions []Question
	Badges    []BadgeDefinition
	Rewards   []models.Reward
}

// AccountSummary is the user's loyalty standing.
type AccountSummary struct {
	UserID           uint        `json:"user_id"`
	Balance          int64       `json:"balance"`
	LifetimePoints   int64       `json:"lifetime_points"`
	Tier             models.Tier `json:"tier"`
	NextTier         models.Tier `json:"next_tier,omitempty"`
	ProgressToNext   int         `json:"progress_to_next"`
	PointsToNext     int64       `json:"points_to_next"`
	XP               int64       `json:"xp"`
	StreakCount      int         `json:"streak_count"`
	LongestStreak    int         `json:"longest_streak"`
	LastActivityDate string      `json:"last_activity_date,omitempty"`
	BadgesUnlocked   int64       `json:"badges_unlocked"`
}

// EarnResult is the outcome of an Earn call.
type EarnResult struct {
	Entry       models.LedgerEntry `json:"entry"`
	Balance     int64              `json:"balance"`
	Tier        models.Tier        `json:"tier"`
	TierChanged bool               `json:"tier_changed"`
	Unlocked    []UnlockedBadge    `json:"unlocked_badges,omitempty"`
}

// Engine is the loyalty core. It owns the components and runs the reactions
// that follow every committed mutation: tier events, achievement evaluation
// and notifications.
type Engine struct {
	db       *gorm.DB
	log      *zap.SugaredLogger
	clock    Clock
	settings Settings
	rewards  []models.Reward

	Ledger       *Ledger
	Streaks      *Streaks
	Quiz         *Quiz
	Achievements *Achievements
	Redemptions  *Redemptions
	events       *Dispatcher
}

// NewEngine builds the engine from opts, filling defaults for anything unset.
func NewEngine(opts Options) (*Engine, error) {
	if opts.DB == nil {
		return nil, errors.New("loyalty engine requires a database")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	st := opts.Settings.withDefaults()
	questions := opts.Questions
	if questions == nil {
		questions = DefaultQuestionBank()
	}
	// fail at boot rather than on the first quiz fetch
	if _, err := SelectQuestions(questions, 1, dayOf(clock.Now(), st.Location), st.QuizSize); err != nil {
		return nil, fmt.Errorf("question bank: %w", err)
	}
	badges := opts.Badges
	if badges == nil {
		badges = DefaultBadges()
	}
	rewards := opts.Rewards
	if rewards == nil {
		rewards = DefaultRewards()
	}

	ledger := NewLedger(opts.DB, log.Named("ledger"), opts.Cache)
	return &Engine{
		db:           opts.DB,
		log:          log,
		clock:        clock,
		settings:     st,
		rewards:      rewards,
		Ledger:       ledger,
		Streaks:      NewStreaks(ledger, clock, st.Location, st.StreakMilestoneEvery, st.StreakMilestonePoints, log.Named("streak")),
		Quiz:         NewQuiz(opts.DB, ledger, questions, clock, st.Location, st.QuizSize, st.PerfectQuizBonus, log.Named("quiz")),
		Achievements: NewAchievements(opts.DB, ledger, badges, clock, log.Named("achievements")),
		Redemptions:  NewRedemptions(opts.DB, ledger, clock, st.VoucherPrefix, log.Named("redemption")),
		events:       NewDispatcher(opts.Notifier, st.EventTimeout, clock, log.Named("events")),
	}, nil
}

// SyncCatalog upserts the badge and reward catalogs.
func (e *Engine) SyncCatalog(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Achievements.SyncBadges(gctx) })
	g.Go(func() error { return e.Redemptions.SyncRewards(gctx, e.rewards) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("sync catalog: %w", err)
	}
	e.log.Infow("catalog synced", "rewards", len(e.rewards))
	return nil
}

// Wait drains pending event deliveries.
func (e *Engine) Wait() {
	e.events.Wait()
}

// Earn awards points for an engagement action. An amount of 0 uses the
// configured default for the action.
func (e *Engine) Earn(ctx context.Context, userID uint, action models.ActionType, amount int64, description string) (*EarnResult, error) {
	label, ok := earnActions[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	if userID == 0 {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidAmount)
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if amount == 0 {
		amount = e.settings.EarnDefaults[action]
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: no default amount for %s", ErrInvalidAmount, action)
	}
	desc := plainText(description)
	if desc == "" {
		desc = label
	}

	req := entryRequest{action: action, delta: amount, description: desc}
	switch action {
	case models.ActionProfileComplete:
		req.key = "profile"
		req.counters = map[string]interface{}{"profile_completed": true}
	case models.ActionNewPolicy:
		req.counters = map[string]interface{}{"policy_count": gorm.Expr("policy_count + 1")}
	case models.ActionReferralConversion:
		req.counters = map[string]interface{}{"referral_count": gorm.Expr("referral_count + 1")}
	case models.ActionChatUsage:
		req.counters = map[string]interface{}{"chat_usage_count": gorm.Expr("chat_usage_count + 1")}
	}

	app, err := e.Ledger.appendRequest(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	e.afterAppend(userID, app)
	unlocked := e.react(ctx, userID)

	out := &EarnResult{
		Entry:       app.Entry,
		Balance:     app.Account.Balance,
		Tier:        app.Account.Tier,
		TierChanged: app.TierChanged(),
		Unlocked:    unlocked,
	}
	if len(unlocked) > 0 {
		if acct, err := e.Ledger.Account(ctx, userID); err == nil {
			out.Balance, out.Tier = acct.Balance, acct.Tier
		}
	}
	return out, nil
}

// AccountSummary returns balance, tier progress and streak for userID. The
// streak reads 0 once a day has been missed, even before the next check-in
// resets the stored counter.
func (e *Engine) AccountSummary(ctx context.Context, userID uint) (*AccountSummary, error) {
	acct, err := e.Ledger.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	balance, err := e.Ledger.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	var badges int64
	if err := e.db.WithContext(ctx).Model(&models.UserBadge{}).Where("user_id = ?", userID).Count(&badges).Error; err != nil {
		return nil, mapStoreError("summary.badges", err)
	}

	s := &AccountSummary{
		UserID:           userID,
		Balance:          balance,
		LifetimePoints:   acct.LifetimePoints,
		Tier:             TierOf(acct.LifetimePoints),
		ProgressToNext:   ProgressToNext(acct.LifetimePoints),
		PointsToNext:     PointsToNext(acct.LifetimePoints),
		XP:               acct.XP,
		StreakCount:      acct.StreakCount,
		LongestStreak:    acct.LongestStreak,
		LastActivityDate: acct.LastActivityDate,
		BadgesUnlocked:   badges,
	}
	if next, ok := NextTier(acct.LifetimePoints); ok {
		s.NextTier = next
	}
	if acct.LastActivityDate != "" {
		today := dayOf(e.clock.Now(), e.settings.Location)
		yesterday, err := previousDay(today, e.settings.Location)
		if err != nil {
			return nil, err
		}
		if acct.LastActivityDate != today && acct.LastActivityDate != yesterday {
			s.StreakCount = 0
		}
	}
	return s, nil
}

// CheckIn counts today's visit towards the streak.
func (e *Engine) CheckIn(ctx context.Context, userID uint) (*StreakResult, error) {
	res, err := e.Streaks.CheckIn(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !res.Counted {
		return res, nil
	}
	if res.Append != nil {
		e.afterAppend(userID, res.Append)
		e.events.Emit(EventStreakMilestone, userID, map[string]interface{}{
			"streak": res.StreakCount,
			"points": res.MilestoneReward,
		})
	}
	res.Unlocked = e.react(ctx, userID)
	return res, nil
}

// DailyQuiz returns today's question set.
func (e *Engine) DailyQuiz(ctx context.Context, userID uint) (*DailyQuiz, error) {
	return e.Quiz.DailyQuiz(ctx, userID)
}

// SubmitQuiz scores today's quiz and credits the reward.
func (e *Engine) SubmitQuiz(ctx context.Context, userID uint, answers []Answer) (*QuizResult, error) {
	res, err := e.Quiz.SubmitQuiz(ctx, userID, answers)
	if err != nil {
		return nil, err
	}
	e.afterAppend(userID, res.Append)
	e.events.Emit(EventQuizCompleted, userID, map[string]interface{}{
		"date":  res.Date,
		"score": res.Score,
		"xp":    res.XPEarned,
		"coins": res.CoinsEarned,
	})
	res.Unlocked = e.react(ctx, userID)
	return res, nil
}

// Redeem exchanges coins for a reward.
func (e *Engine) Redeem(ctx context.Context, userID, rewardID uint) (*RedeemResult, error) {
	res, err := e.Redemptions.Redeem(ctx, userID, rewardID)
	if err != nil {
		return nil, err
	}
	e.afterAppend(userID, res.Append)
	e.events.Emit(EventRedemptionCompleted, userID, map[string]interface{}{
		"redemption_id": res.Record.ID,
		"reward":        res.Reward.Code,
		"cost":          res.Record.Cost,
	})
	res.Unlocked = e.react(ctx, userID)
	if len(res.Unlocked) > 0 {
		if acct, err := e.Ledger.Account(ctx, userID); err == nil {
			res.Balance = acct.Balance
		}
	}
	return res, nil
}

// ListBadges returns the catalog with the user's unlock state.
func (e *Engine) ListBadges(ctx context.Context, userID uint) ([]BadgeStatus, error) {
	return e.Achievements.ListBadges(ctx, userID)
}

// EvaluateAchievements runs the evaluator on demand and reports criteria failures.
func (e *Engine) EvaluateAchievements(ctx context.Context, userID uint) ([]UnlockedBadge, error) {
	unlocked, err := e.Achievements.Evaluate(ctx, userID)
	e.publishUnlocks(userID, unlocked)
	return unlocked, err
}

// History returns the user's ledger, newest first.
func (e *Engine) History(ctx context.Context, userID uint, page, pageSize int) ([]models.LedgerEntry, int64, error) {
	return e.Ledger.History(ctx, userID, page, pageSize)
}

// ListRewards returns the active reward catalog.
func (e *Engine) ListRewards(ctx context.Context) ([]models.Reward, error) {
	return e.Redemptions.ListRewards(ctx)
}

// ListRedemptions returns the user's redemptions, newest first.
func (e *Engine) ListRedemptions(ctx context.Context, userID uint, page, pageSize int) ([]models.RedemptionRecord, int64, error) {
	return e.Redemptions.ListRedemptions(ctx, userID, page, pageSize)
}

// Reconcile compares the stored balance with the ledger.
func (e *Engine) Reconcile(ctx context.Context, userID uint) (*Reconciliation, error) {
	return e.Ledger.Reconcile(ctx, userID)
}

// afterAppend emits the point and tier events for a committed append.
func (e *Engine) afterAppend(userID uint, app *AppendResult) {
	if app == nil {
		return
	}
	if d := app.Entry.Delta; d != 0 {
		kind := EventPointsEarned
		if d < 0 {
			kind = EventPointsSpent
		}
		e.events.Emit(kind, userID, map[string]interface{}{
			"entry_id":      app.Entry.ID,
			"action":        app.Entry.ActionType,
			"delta":         d,
			"balance_after": app.Entry.BalanceAfter,
		})
	}
	if app.TierChanged() {
		e.log.Infow("tier changed", "user_id", userID, "from", app.PreviousTier, "to", app.Account.Tier)
		e.events.Emit(EventTierChanged, userID, map[string]interface{}{
			"from":            app.PreviousTier,
			"to":              app.Account.Tier,
			"lifetime_points": app.Account.LifetimePoints,
		})
	}
}

// react evaluates achievements after a committed mutation. Evaluation errors
// are logged; the mutation already succeeded.
func (e *Engine) react(ctx context.Context, userID uint) []UnlockedBadge {
	unlocked, err := e.Achievements.Evaluate(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrBadgeCriteria) {
			e.log.Warnw("badge evaluation reported errors", "user_id", userID, "error", err)
		} else {
			e.log.Errorw("badge evaluation failed", "user_id", userID, "error", err)
		}
	}
	e.publishUnlocks(userID, unlocked)
	return unlocked
}

func (e *Engine) publishUnlocks(userID uint, unlocked []UnlockedBadge) {
	for _, u := range unlocked {
		e.events.Emit(EventBadgeUnlocked, userID, map[string]interface{}{
			"badge":         u.Badge.Code,
			"name":          u.Badge.Name,
			"reward_points": u.Badge.RewardPoints,
		})
		e.afterAppend(userID, u.Reward)
	}
}
