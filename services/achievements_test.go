package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soriano-club/clubapi/models"
)

func newTestAchievements(t *testing.T, defs []BadgeDefinition) (*Achievements, *Ledger) {
	t.Helper()
	db := newTestDB(t)
	l := NewLedger(db, nil, nil)
	a := NewAchievements(db, l, defs, newTestClock(day(2024, time.June, 11)), nil)
	if err := a.SyncBadges(context.Background()); err != nil {
		t.Fatalf("sync badges: %v", err)
	}
	return a, l
}

func countUserBadges(t *testing.T, a *Achievements, userID uint) int64 {
	t.Helper()
	var n int64
	if err := a.db.Model(&models.UserBadge{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		t.Fatalf("count badges: %v", err)
	}
	return n
}

func TestEvaluateIsIdempotent(t *testing.T) {
	a, l := newTestAchievements(t, []BadgeDefinition{{
		Code: "FIRST_POLICY", Name: "Protected", RewardPoints: 10,
		Criteria: func(s Stats) bool { return s.Account.PolicyCount >= 1 },
	}})
	ctx := context.Background()
	if _, err := l.appendRequest(ctx, 1, entryRequest{
		action: models.ActionNewPolicy, delta: 100, description: "policy",
		counters: map[string]interface{}{"policy_count": 1},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for i := 0; i < 5; i++ {
		got, err := a.Evaluate(ctx, 1)
		if err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
		if i == 0 && len(got) != 1 {
			t.Fatalf("first evaluation unlocked %d badges", len(got))
		}
		if i > 0 && len(got) != 0 {
			t.Fatalf("evaluation %d unlocked again", i)
		}
	}
	if n := countUserBadges(t, a, 1); n != 1 {
		t.Fatalf("user badges = %d", n)
	}
	if n := countEntries(t, a.db, 1, models.ActionBadgeReward); n != 1 {
		t.Fatalf("badge rewards = %d", n)
	}
	if bal, _ := l.Balance(ctx, 1); bal != 110 {
		t.Fatalf("balance = %d, want 110", bal)
	}
	mustReconcile(t, l, 1)
}

func TestConcurrentEvaluationUnlocksOnce(t *testing.T) {
	a, l := newTestAchievements(t, []BadgeDefinition{{
		Code: "WELCOME", Name: "Welcome", RewardPoints: 25,
		Criteria: func(Stats) bool { return true },
	}})
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			_, err := a.Evaluate(ctx, 2)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if n := countUserBadges(t, a, 2); n != 1 {
		t.Fatalf("user badges = %d", n)
	}
	if bal, _ := l.Balance(ctx, 2); bal != 25 {
		t.Fatalf("balance = %d, want 25", bal)
	}
}

func TestPanickingCriteriaDoesNotBlockOthers(t *testing.T) {
	a, _ := newTestAchievements(t, []BadgeDefinition{
		{Code: "BROKEN", Name: "Broken", Criteria: func(Stats) bool { panic("boom") }},
		{Code: "OK", Name: "Fine", Criteria: func(Stats) bool { return true }},
	})

	got, err := a.Evaluate(context.Background(), 3)
	if !errors.Is(err, ErrBadgeCriteria) {
		t.Fatalf("expected ErrBadgeCriteria, got %v", err)
	}
	if len(got) != 1 || got[0].Badge.Code != "OK" {
		t.Fatalf("unexpected unlocks %+v", got)
	}
}

func TestBadgeRewardCanUnlockAnotherBadge(t *testing.T) {
	a, l := newTestAchievements(t, []BadgeDefinition{
		{Code: "WELCOME", Name: "Welcome", RewardPoints: 1000, Criteria: func(Stats) bool { return true }},
		{Code: "SILVER", Name: "Silver", Criteria: func(s Stats) bool { return s.Account.Tier == models.TierSilver }},
	})
	ctx := context.Background()

	got, err := a.Evaluate(ctx, 4)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unlocked %d badges, want 2", len(got))
	}
	if !got[0].Reward.TierChanged() {
		t.Fatalf("badge reward should have moved the tier")
	}
	acct, _ := l.Account(ctx, 4)
	if acct.Tier != models.TierSilver {
		t.Fatalf("tier = %s", acct.Tier)
	}
}

func TestCriteriaFailureInLaterPassIsReported(t *testing.T) {
	a, _ := newTestAchievements(t, []BadgeDefinition{
		{Code: "WELCOME", Name: "Welcome", RewardPoints: 10, Criteria: func(Stats) bool { return true }},
		{Code: "COLLECTOR", Name: "Collector", Criteria: func(s Stats) bool {
			if s.BadgeCount > 0 {
				panic("collector lookup failed")
			}
			return false
		}},
	})

	got, err := a.Evaluate(context.Background(), 6)
	if len(got) != 1 || got[0].Badge.Code != "WELCOME" {
		t.Fatalf("unexpected unlocks %+v", got)
	}
	if !errors.Is(err, ErrBadgeCriteria) || !strings.Contains(err.Error(), "COLLECTOR") {
		t.Fatalf("second-pass failure lost: %v", err)
	}
}

func TestRepeatedCriteriaFailureReportedOnce(t *testing.T) {
	a, _ := newTestAchievements(t, []BadgeDefinition{
		{Code: "BROKEN", Name: "Broken", Criteria: func(Stats) bool { panic("boom") }},
		{Code: "OK", Name: "Fine", Criteria: func(Stats) bool { return true }},
	})

	_, err := a.Evaluate(context.Background(), 7)
	if n := strings.Count(err.Error(), "boom"); n != 1 {
		t.Fatalf("failure reported %d times: %v", n, err)
	}
}

func TestListBadgesMasksLockedSecrets(t *testing.T) {
	a, _ := newTestAchievements(t, []BadgeDefinition{
		{Code: "OPEN", Name: "Open", Description: "visible", Criteria: func(Stats) bool { return true }},
		{Code: "HIDDEN", Name: "Hidden", Description: "secret", Secret: true, RewardPoints: 5, Criteria: func(Stats) bool { return false }},
	})
	ctx := context.Background()
	if _, err := a.Evaluate(ctx, 5); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	list, err := a.ListBadges(ctx, 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d badges", len(list))
	}
	for _, st := range list {
		switch st.Badge.Code {
		case "OPEN":
			if !st.Unlocked || st.UnlockedAt == nil {
				t.Fatalf("OPEN should be unlocked")
			}
		case "HIDDEN":
			if st.Unlocked || st.Badge.Name != "???" || st.Badge.RewardPoints != 0 {
				t.Fatalf("locked secret badge leaked: %+v", st.Badge)
			}
		}
	}
}

func TestDefaultBadgeCatalogIsConsistent(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range DefaultBadges() {
		if seen[d.Code] {
			t.Fatalf("duplicate badge %s", d.Code)
		}
		seen[d.Code] = true
		if d.Criteria == nil {
			t.Fatalf("badge %s has no criteria", d.Code)
		}
		if _, err := evalCriteria(d, Stats{}); err != nil {
			t.Fatalf("badge %s: %v", d.Code, err)
		}
	}
}
