package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/soriano-club/clubapi/models"
)

// newTestDB opens a private in-memory database. A single connection makes
// concurrent transactions queue the way row locks make them queue in MySQL.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) kinds() map[EventKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[EventKind]int)
	for _, ev := range r.events {
		out[ev.Kind]++
	}
	return out
}

// newTestEngine builds an engine with no badges unless the caller supplies some.
func newTestEngine(t *testing.T, db *gorm.DB, clock Clock, badges []BadgeDefinition, n Notifier) *Engine {
	t.Helper()
	if badges == nil {
		badges = []BadgeDefinition{}
	}
	e, err := NewEngine(Options{
		DB:       db,
		Clock:    clock,
		Notifier: n,
		Badges:   badges,
		Rewards:  []models.Reward{},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e.SyncCatalog(context.Background()); err != nil {
		t.Fatalf("sync catalog: %v", err)
	}
	t.Cleanup(e.Wait)
	return e
}

func mustAppend(t *testing.T, l *Ledger, userID uint, action models.ActionType, delta int64) *AppendResult {
	t.Helper()
	res, err := l.Append(context.Background(), userID, action, delta, string(action))
	if err != nil {
		t.Fatalf("append %s %d: %v", action, delta, err)
	}
	return res
}

func mustReconcile(t *testing.T, l *Ledger, userID uint) *Reconciliation {
	t.Helper()
	rec, err := l.Reconcile(context.Background(), userID)
	if err != nil {
		t.Fatalf("reconcile user %d: %v", userID, err)
	}
	return rec
}

func countEntries(t *testing.T, db *gorm.DB, userID uint, action models.ActionType) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.LedgerEntry{}).Where("user_id = ? AND action_type = ?", userID, action).Count(&n).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return n
}

func createReward(t *testing.T, db *gorm.DB, r models.Reward) models.Reward {
	t.Helper()
	r.Active = true
	if r.Code == "" {
		r.Code = uuid.NewString()[:8]
	}
	if r.Name == "" {
		r.Name = r.Code
	}
	if err := db.Create(&r).Error; err != nil {
		t.Fatalf("create reward: %v", err)
	}
	return r
}

func intPtr(n int) *int { return &n }
