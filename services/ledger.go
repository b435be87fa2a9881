package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/soriano-club/clubapi/models"
)

const maxDescriptionLen = 255

// BalanceCache is an optional read cache for ledger balances. Each value is
// stored with the account version it was computed at; a hit only counts when
// that version is still current. Invalidate runs after every committed append.
type BalanceCache interface {
	GetBalance(ctx context.Context, userID uint) (balance, version int64, ok bool)
	SetBalance(ctx context.Context, userID uint, balance, version int64)
	Invalidate(ctx context.Context, userID uint)
}

type noopCache struct{}

func (noopCache) GetBalance(context.Context, uint) (int64, int64, bool) { return 0, 0, false }
func (noopCache) SetBalance(context.Context, uint, int64, int64)        {}
func (noopCache) Invalidate(context.Context, uint)                      {}

// entryRequest describes one ledger append plus any account counters that move with it.
type entryRequest struct {
	action      models.ActionType
	delta       int64
	description string
	key         string
	counters    map[string]interface{}
}

// AppendResult is the outcome of a committed append.
type AppendResult struct {
	Entry        models.LedgerEntry
	Account      models.Account
	PreviousTier models.Tier
}

// TierChanged reports whether the append moved the account to another tier.
func (r *AppendResult) TierChanged() bool {
	return r != nil && r.PreviousTier != r.Account.Tier
}

// Reconciliation compares the materialized balance with the ledger sum.
type Reconciliation struct {
	UserID       uint  `json:"user_id"`
	Materialized int64 `json:"materialized"`
	LedgerSum    int64 `json:"ledger_sum"`
	Entries      int64 `json:"entries"`
}

// Ledger is the append-only store of point movements and the source of truth for balances.
type Ledger struct {
	db    *gorm.DB
	log   *zap.SugaredLogger
	cache BalanceCache
}

// NewLedger creates a Ledger. A nil cache disables caching.
func NewLedger(db *gorm.DB, log *zap.SugaredLogger, cache BalanceCache) *Ledger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cache == nil {
		cache = noopCache{}
	}
	return &Ledger{db: db, log: log, cache: cache}
}

// Append writes a single entry for userID. Negative deltas that would take the
// balance below zero fail with ErrInsufficientBalance.
func (l *Ledger) Append(ctx context.Context, userID uint, action models.ActionType, delta int64, description string) (*AppendResult, error) {
	return l.appendRequest(ctx, userID, entryRequest{action: action, delta: delta, description: description})
}

func (l *Ledger) appendRequest(ctx context.Context, userID uint, req entryRequest) (*AppendResult, error) {
	if userID == 0 {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidAmount)
	}
	var res *AppendResult
	err := l.inTx(ctx, userID, func(tx *gorm.DB) error {
		r, err := l.appendInTx(tx, userID, req)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// inTx runs fn in a transaction, retries once on a lost race and invalidates the
// cached balance after commit. Every component that appends goes through here.
func (l *Ledger) inTx(ctx context.Context, userID uint, fn func(tx *gorm.DB) error) error {
	err := retryOnce(func() error {
		return mapStoreError("ledger.tx", l.db.WithContext(ctx).Transaction(fn))
	})
	if err != nil {
		return err
	}
	l.cache.Invalidate(ctx, userID)
	return nil
}

// appendInTx performs the guarded balance update and inserts the entry. It must
// run inside a transaction owned by the caller.
func (l *Ledger) appendInTx(tx *gorm.DB, userID uint, req entryRequest) (*AppendResult, error) {
	acct, err := lockAccount(tx, userID)
	if err != nil {
		return nil, err
	}

	var key *string
	if req.key != "" {
		k := req.key
		key = &k
		var n int64
		if err := tx.Model(&models.LedgerEntry{}).
			Where("user_id = ? AND idempotency_key = ?", userID, k).
			Count(&n).Error; err != nil {
			return nil, mapStoreError("ledger.key", err)
		}
		if n > 0 {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, k)
		}
	}

	newBalance := acct.Balance + req.delta
	if newBalance < 0 {
		return nil, fmt.Errorf("%w: balance %d, delta %d", ErrInsufficientBalance, acct.Balance, req.delta)
	}

	var gain int64
	if req.delta > 0 {
		gain = req.delta
	}
	prevTier := acct.Tier
	newLifetime := acct.LifetimePoints + gain
	newTier := TierOf(newLifetime)

	updates := map[string]interface{}{
		"balance":         gorm.Expr("balance + ?", req.delta),
		"lifetime_points": gorm.Expr("lifetime_points + ?", gain),
		"tier":            newTier,
		"version":         gorm.Expr("version + 1"),
	}
	for col, v := range req.counters {
		updates[col] = v
	}

	res := tx.Model(&models.Account{}).
		Where("user_id = ? AND version = ? AND balance + ? >= 0", userID, acct.Version, req.delta).
		Updates(updates)
	if res.Error != nil {
		return nil, mapStoreError("ledger.update_account", res.Error)
	}
	if res.RowsAffected == 0 {
		var current models.Account
		if err := tx.Where("user_id = ?", userID).First(&current).Error; err != nil {
			return nil, mapStoreError("ledger.reload_account", err)
		}
		if current.Balance+req.delta < 0 {
			return nil, fmt.Errorf("%w: balance %d, delta %d", ErrInsufficientBalance, current.Balance, req.delta)
		}
		return nil, fmt.Errorf("%w: account %d changed underneath", ErrConcurrentModification, userID)
	}

	entry := models.LedgerEntry{
		UserID:         userID,
		ActionType:     req.action,
		Delta:          req.delta,
		BalanceAfter:   newBalance,
		Description:    clampDescription(req.description),
		IdempotencyKey: key,
	}
	if err := tx.Create(&entry).Error; err != nil {
		if key != nil && isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, *key)
		}
		return nil, mapStoreError("ledger.insert_entry", err)
	}

	var after models.Account
	if err := tx.Where("user_id = ?", userID).First(&after).Error; err != nil {
		return nil, mapStoreError("ledger.read_account", err)
	}

	l.log.Debugw("ledger append",
		"user_id", userID,
		"action", req.action,
		"delta", req.delta,
		"balance_after", newBalance,
		"tier", after.Tier,
	)

	return &AppendResult{Entry: entry, Account: after, PreviousTier: prevTier}, nil
}

// Balance returns the canonical balance: the sum of every delta for the user.
// A cached sum is served only while its account version is current, and a sum
// is cached only when no write committed while it was computed.
func (l *Ledger) Balance(ctx context.Context, userID uint) (int64, error) {
	db := l.db.WithContext(ctx)
	before, err := accountVersion(db, userID)
	if err != nil {
		return 0, err
	}
	if b, v, ok := l.cache.GetBalance(ctx, userID); ok && v == before {
		return b, nil
	}
	sum, _, err := l.ledgerSum(db, userID)
	if err != nil {
		return 0, err
	}
	after, err := accountVersion(db, userID)
	if err != nil {
		return 0, err
	}
	if after == before {
		l.cache.SetBalance(ctx, userID, sum, before)
	}
	return sum, nil
}

// accountVersion returns the account's version, 0 before the first write.
func accountVersion(db *gorm.DB, userID uint) (int64, error) {
	var versions []int64
	if err := db.Model(&models.Account{}).Where("user_id = ?", userID).Pluck("version", &versions).Error; err != nil {
		return 0, mapStoreError("ledger.version", err)
	}
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[0], nil
}

func (l *Ledger) ledgerSum(db *gorm.DB, userID uint) (sum int64, count int64, err error) {
	var row struct {
		Total   int64
		Entries int64
	}
	err = db.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(delta), 0) AS total, COUNT(*) AS entries").
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, mapStoreError("ledger.sum", err)
	}
	return row.Total, row.Entries, nil
}

// Account returns the user's account, or a fresh bronze account when none exists yet.
func (l *Ledger) Account(ctx context.Context, userID uint) (models.Account, error) {
	var acct models.Account
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Account{UserID: userID, Tier: models.TierBronze}, nil
	}
	if err != nil {
		return models.Account{}, mapStoreError("ledger.account", err)
	}
	return acct, nil
}

// History lists entries newest first.
func (l *Ledger) History(ctx context.Context, userID uint, page, pageSize int) ([]models.LedgerEntry, int64, error) {
	page, pageSize = NormalizePage(page, pageSize)
	db := l.db.WithContext(ctx)

	var total int64
	if err := db.Model(&models.LedgerEntry{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, mapStoreError("ledger.history_count", err)
	}
	entries := []models.LedgerEntry{}
	if err := db.Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&entries).Error; err != nil {
		return nil, 0, mapStoreError("ledger.history", err)
	}
	return entries, total, nil
}

// Reconcile checks the materialized balance against the ledger sum.
func (l *Ledger) Reconcile(ctx context.Context, userID uint) (*Reconciliation, error) {
	acct, err := l.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum, count, err := l.ledgerSum(l.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	rec := &Reconciliation{UserID: userID, Materialized: acct.Balance, LedgerSum: sum, Entries: count}
	if sum != acct.Balance || sum < 0 {
		l.log.Errorw("ledger drift detected", "user_id", userID, "materialized", acct.Balance, "ledger_sum", sum)
		return rec, fmt.Errorf("%w: user %d materialized %d, ledger %d", ErrLedgerMismatch, userID, acct.Balance, sum)
	}
	return rec, nil
}

// lockAccount loads the account row for update, creating it on first touch.
func lockAccount(tx *gorm.DB, userID uint) (*models.Account, error) {
	seed := models.Account{UserID: userID, Tier: models.TierBronze}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, mapStoreError("ledger.ensure_account", err)
	}
	var acct models.Account
	if err := forUpdate(tx).Where("user_id = ?", userID).First(&acct).Error; err != nil {
		return nil, mapStoreError("ledger.lock_account", err)
	}
	return &acct, nil
}

// forUpdate adds a row lock where the dialect supports one. SQLite serializes
// writers on its own.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func clampDescription(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > maxDescriptionLen {
		return string(r[:maxDescriptionLen])
	}
	return s
}

// NormalizePage clamps paging input to page >= 1 and 1..100 rows.
func NormalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
