package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/soriano-club/clubapi/models"
)

func TestLedgerSumMatchesBalance(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db, nil, nil)
	ctx := context.Background()
	const uid = 1

	steps := []struct {
		action models.ActionType
		delta  int64
		fails  bool
	}{
		{models.ActionProfileComplete, 100, false},
		{models.ActionNewPolicy, 250, false},
		{models.ActionRedemption, -300, false},
		{models.ActionRedemption, -100, true},
		{models.ActionChatUsage, 5, false},
		{models.ActionRedemption, -55, false},
	}
	var want int64
	for i, s := range steps {
		_, err := l.Append(ctx, uid, s.action, s.delta, "step")
		if s.fails {
			if !errors.Is(err, ErrInsufficientBalance) {
				t.Fatalf("step %d: expected ErrInsufficientBalance, got %v", i, err)
			}
		} else {
			if err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
			want += s.delta
		}

		rec := mustReconcile(t, l, uid)
		if rec.LedgerSum != want || rec.Materialized != want {
			t.Fatalf("step %d: ledger %d, materialized %d, want %d", i, rec.LedgerSum, rec.Materialized, want)
		}
		bal, err := l.Balance(ctx, uid)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if bal != want || bal < 0 {
			t.Fatalf("step %d: balance %d, want %d", i, bal, want)
		}
	}
	if want != 0 {
		t.Fatalf("expected the sequence to end at 0, got %d", want)
	}
}

func TestAppendRejectsOverdraw(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db, nil, nil)
	mustAppend(t, l, 2, models.ActionNewPolicy, 100)

	_, err := l.Append(context.Background(), 2, models.ActionRedemption, -150, "too much")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if n := countEntries(t, db, 2, models.ActionRedemption); n != 0 {
		t.Fatalf("rejected debit left %d entries", n)
	}
}

func TestAppendIdempotencyKey(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db, nil, nil)
	ctx := context.Background()
	req := entryRequest{action: models.ActionDailyLogin, delta: 50, description: "bonus", key: "streak:2024-06-11"}

	if _, err := l.appendRequest(ctx, 3, req); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if _, err := l.appendRequest(ctx, 3, req); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
	// keys are scoped per user
	if _, err := l.appendRequest(ctx, 4, req); err != nil {
		t.Fatalf("other user: %v", err)
	}
	if bal, _ := l.Balance(ctx, 3); bal != 50 {
		t.Fatalf("balance = %d, want 50", bal)
	}
}

func TestTierTransitionBronzeToSilver(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db, nil, nil)
	mustAppend(t, l, 5, models.ActionNewPolicy, 950)

	res := mustAppend(t, l, 5, models.ActionNewPolicy, 100)
	if res.Account.LifetimePoints != 1050 {
		t.Fatalf("lifetime = %d, want 1050", res.Account.LifetimePoints)
	}
	if res.PreviousTier != models.TierBronze || res.Account.Tier != models.TierSilver {
		t.Fatalf("tier %s -> %s, want BRONZE -> SILVER", res.PreviousTier, res.Account.Tier)
	}
	if !res.TierChanged() {
		t.Fatalf("TierChanged should be true")
	}
	if p := ProgressToNext(res.Account.LifetimePoints); p != 1 {
		t.Fatalf("progress = %d, want 1 relative to the silver band", p)
	}
}

func TestSpendNeverLowersTier(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db, nil, nil)
	mustAppend(t, l, 6, models.ActionNewPolicy, 5200)

	res := mustAppend(t, l, 6, models.ActionRedemption, -5000)
	if res.Account.Tier != models.TierGold {
		t.Fatalf("tier = %s after spend, want GOLD", res.Account.Tier)
	}
	if res.Account.LifetimePoints != 5200 {
		t.Fatalf("lifetime = %d, spend must not reduce it", res.Account.LifetimePoints)
	}
	if res.Account.Balance != 200 {
		t.Fatalf("balance = %d, want 200", res.Account.Balance)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db, nil, nil)
	for i := 0; i < 5; i++ {
		mustAppend(t, l, 7, models.ActionChatUsage, int64(i+1))
	}

	entries, total, err := l.History(context.Background(), 7, 1, 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if total != 5 || len(entries) != 3 {
		t.Fatalf("total %d, page %d", total, len(entries))
	}
	if entries[0].Delta != 5 || entries[2].Delta != 3 {
		t.Fatalf("unexpected order: %d, %d", entries[0].Delta, entries[2].Delta)
	}
	if entries[0].BalanceAfter != 15 {
		t.Fatalf("balance_after = %d, want 15", entries[0].BalanceAfter)
	}
}

func TestReconcileDetectsDrift(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db, nil, nil)
	mustAppend(t, l, 8, models.ActionNewPolicy, 100)

	if err := db.Model(&models.Account{}).Where("user_id = ?", 8).Update("balance", 90).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}
	rec, err := l.Reconcile(context.Background(), 8)
	if !errors.Is(err, ErrLedgerMismatch) {
		t.Fatalf("expected ErrLedgerMismatch, got %v", err)
	}
	if rec.LedgerSum != 100 || rec.Materialized != 90 {
		t.Fatalf("unexpected reconciliation %+v", rec)
	}
}

func TestDescriptionIsClamped(t *testing.T) {
	long := make([]rune, 400)
	for i := range long {
		long[i] = 'é'
	}
	if got := []rune(clampDescription(string(long))); len(got) != maxDescriptionLen {
		t.Fatalf("clamped to %d runes", len(got))
	}
}

type cachedBalance struct {
	balance int64
	version int64
}

type mapCache struct {
	m           map[uint]cachedBalance
	invalidated int
	// beforeSet runs once ahead of the next SetBalance
	beforeSet func()
}

func newMapCache() *mapCache { return &mapCache{m: map[uint]cachedBalance{}} }

func (c *mapCache) GetBalance(_ context.Context, id uint) (int64, int64, bool) {
	v, ok := c.m[id]
	return v.balance, v.version, ok
}
func (c *mapCache) SetBalance(_ context.Context, id uint, b, version int64) {
	if fn := c.beforeSet; fn != nil {
		c.beforeSet = nil
		fn()
	}
	c.m[id] = cachedBalance{balance: b, version: version}
}
func (c *mapCache) Invalidate(_ context.Context, id uint) {
	delete(c.m, id)
	c.invalidated++
}

func TestAppendInvalidatesCache(t *testing.T) {
	db := newTestDB(t)
	cache := newMapCache()
	l := NewLedger(db, nil, cache)
	ctx := context.Background()

	mustAppend(t, l, 9, models.ActionNewPolicy, 40)
	if b, _ := l.Balance(ctx, 9); b != 40 {
		t.Fatalf("balance = %d", b)
	}
	if cache.m[9].balance != 40 {
		t.Fatalf("balance not cached")
	}
	mustAppend(t, l, 9, models.ActionNewPolicy, 2)
	if _, ok := cache.m[9]; ok {
		t.Fatalf("cache still holds a stale balance")
	}
	if b, _ := l.Balance(ctx, 9); b != 42 {
		t.Fatalf("balance = %d, want 42", b)
	}
}

func TestBalanceIgnoresFillRacingAnAppend(t *testing.T) {
	db := newTestDB(t)
	cache := newMapCache()
	l := NewLedger(db, nil, cache)
	ctx := context.Background()

	mustAppend(t, l, 12, models.ActionNewPolicy, 100)
	// an append commits after the sum was read but before the cache fill
	cache.beforeSet = func() { mustAppend(t, l, 12, models.ActionChatUsage, 50) }

	if _, err := l.Balance(ctx, 12); err != nil {
		t.Fatalf("balance: %v", err)
	}
	b, err := l.Balance(ctx, 12)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b != 150 {
		t.Fatalf("stale balance %d served, ledger sum 150", b)
	}
	mustReconcile(t, l, 12)
}

func TestBalanceSkipsFillWhenVersionMoves(t *testing.T) {
	db := newTestDB(t)
	cache := newMapCache()
	l := NewLedger(db, nil, cache)
	ctx := context.Background()

	mustAppend(t, l, 13, models.ActionNewPolicy, 70)
	if b, _ := l.Balance(ctx, 13); b != 70 {
		t.Fatalf("balance = %d", b)
	}
	hit := cache.m[13]
	// a value cached at an older version is never served
	cache.m[13] = cachedBalance{balance: 999, version: hit.version - 1}
	if b, _ := l.Balance(ctx, 13); b != 70 {
		t.Fatalf("balance from outdated cache entry: %d", b)
	}
	// a value at the current version is a hit
	cache.m[13] = cachedBalance{balance: 71, version: hit.version}
	if b, _ := l.Balance(ctx, 13); b != 71 {
		t.Fatalf("current cache entry not used: %d", b)
	}
}

// stealVersion bumps the account version inside the transaction right before
// the guarded balance update, the way a concurrent committed writer would. It
// returns a counter of guarded updates attempted.
func stealVersion(t *testing.T, db *gorm.DB, userID uint, times int) *int {
	t.Helper()
	attempts := 0
	err := db.Callback().Update().Before("gorm:update").Register("test:steal_version", func(tx *gorm.DB) {
		if tx.Statement.Table != "accounts" {
			return
		}
		attempts++
		if attempts > times {
			return
		}
		if err := tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE accounts SET version = version + 1 WHERE user_id = ?", userID).Error; err != nil {
			t.Errorf("bump version: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	return &attempts
}

func TestAppendRetriesLostVersionRace(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db, nil, nil)
	ctx := context.Background()
	mustAppend(t, l, 4, models.ActionNewPolicy, 100)

	attempts := stealVersion(t, db, 4, 1)
	res, err := l.Append(ctx, 4, models.ActionRedemption, -30, "spend")
	if err != nil {
		t.Fatalf("append after a lost race: %v", err)
	}
	if *attempts != 2 {
		t.Fatalf("guarded update attempts = %d, want 2", *attempts)
	}
	if res.Account.Balance != 70 || res.Entry.BalanceAfter != 70 {
		t.Fatalf("balance %d, entry balance_after %d", res.Account.Balance, res.Entry.BalanceAfter)
	}
	if n := countEntries(t, db, 4, models.ActionRedemption); n != 1 {
		t.Fatalf("redemption entries = %d", n)
	}
	mustReconcile(t, l, 4)
}

func TestAppendSurfacesRepeatedVersionRace(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db, nil, nil)
	ctx := context.Background()
	mustAppend(t, l, 5, models.ActionNewPolicy, 100)

	attempts := stealVersion(t, db, 5, 2)
	_, err := l.Append(ctx, 5, models.ActionRedemption, -30, "spend")
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if *attempts != 2 {
		t.Fatalf("guarded update attempts = %d, want 2", *attempts)
	}
	if n := countEntries(t, db, 5, models.ActionRedemption); n != 0 {
		t.Fatalf("failed append left %d entries", n)
	}
	if b, _ := l.Balance(ctx, 5); b != 100 {
		t.Fatalf("balance = %d, want 100", b)
	}
	mustReconcile(t, l, 5)
}
