package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/soriano-club/clubapi/models"
)

// voucherAlphabet drops 0/O and 1/I so codes survive being read aloud.
const voucherAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const voucherAttempts = 5

// RedeemResult carries the committed record and the debit behind it.
type RedeemResult struct {
	Record   models.RedemptionRecord `json:"redemption"`
	Reward   models.Reward           `json:"reward"`
	Balance  int64                   `json:"balance"`
	Unlocked []UnlockedBadge         `json:"unlocked_badges,omitempty"`
	Append   *AppendResult           `json:"-"`
}

// Redemptions exchanges coins for catalog rewards. It is the only component
// that debits conditionally on the balance.
type Redemptions struct {
	db     *gorm.DB
	ledger *Ledger
	clock  Clock
	prefix string
	log    *zap.SugaredLogger
}

// NewRedemptions creates a redemption manager issuing vouchers with prefix.
func NewRedemptions(db *gorm.DB, ledger *Ledger, clock Clock, prefix string, log *zap.SugaredLogger) *Redemptions {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if prefix == "" {
		prefix = "SOR"
	}
	return &Redemptions{db: db, ledger: ledger, clock: clock, prefix: prefix, log: log}
}

// Redeem debits the reward's cost and issues it. All steps commit together or
// not at all; failed attempts leave no record and no ledger entry.
func (r *Redemptions) Redeem(ctx context.Context, userID, rewardID uint) (*RedeemResult, error) {
	var out *RedeemResult
	err := r.ledger.inTx(ctx, userID, func(tx *gorm.DB) error {
		var reward models.Reward
		if err := tx.Where("id = ?", rewardID).First(&reward).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", ErrRewardNotFound, rewardID)
			}
			return mapStoreError("redeem.load_reward", err)
		}
		if !reward.Active {
			return fmt.Errorf("%w: %d is not active", ErrRewardNotFound, rewardID)
		}
		if reward.Stock != nil && *reward.Stock <= 0 {
			return fmt.Errorf("%w: %s", ErrRewardOutOfStock, reward.Code)
		}

		acct, err := lockAccount(tx, userID)
		if err != nil {
			return err
		}
		if acct.Balance < reward.Cost {
			return fmt.Errorf("%w: balance %d, cost %d", ErrInsufficientBalance, acct.Balance, reward.Cost)
		}

		if reward.Stock != nil {
			res := tx.Model(&models.Reward{}).
				Where("id = ? AND stock > 0", reward.ID).
				Update("stock", gorm.Expr("stock - 1"))
			if res.Error != nil {
				return mapStoreError("redeem.stock", res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", ErrRewardOutOfStock, reward.Code)
			}
			left := *reward.Stock - 1
			reward.Stock = &left
		}

		record := models.RedemptionRecord{
			UserID:   userID,
			RewardID: reward.ID,
			Cost:     reward.Cost,
			Status:   models.RedemptionPending,
		}
		if err := tx.Create(&record).Error; err != nil {
			return mapStoreError("redeem.create_record", err)
		}

		app, err := r.ledger.appendInTx(tx, userID, entryRequest{
			action:      models.ActionRedemption,
			delta:       -reward.Cost,
			description: "Redeemed: " + reward.Name,
			key:         fmt.Sprintf("redemption:%d", record.ID),
			counters: map[string]interface{}{
				"redemption_count": gorm.Expr("redemption_count + 1"),
			},
		})
		if err != nil {
			return err
		}

		var voucher *string
		if reward.RequiresVoucher {
			code, err := r.issueVoucher(tx)
			if err != nil {
				return err
			}
			voucher = &code
		}

		now := r.clock.Now()
		entryID := app.Entry.ID
		upd := tx.Model(&models.RedemptionRecord{}).
			Where("id = ? AND status = ?", record.ID, models.RedemptionPending).
			Updates(map[string]interface{}{
				"status":          models.RedemptionCompleted,
				"voucher_code":    voucher,
				"ledger_entry_id": entryID,
				"completed_at":    now,
			})
		if upd.Error != nil {
			return mapStoreError("redeem.complete", upd.Error)
		}
		if upd.RowsAffected == 0 {
			return fmt.Errorf("%w: redemption %d left pending", ErrConcurrentModification, record.ID)
		}

		record.Status = models.RedemptionCompleted
		record.VoucherCode = voucher
		record.LedgerEntryID = &entryID
		record.CompletedAt = &now
		out = &RedeemResult{Record: record, Reward: reward, Balance: app.Account.Balance, Append: app}
		return nil
	})
	if err != nil {
		r.log.Infow("redemption rejected", "user_id", userID, "reward_id", rewardID, "reason", err.Error())
		return nil, err
	}

	r.log.Infow("redemption completed",
		"user_id", userID,
		"reward", out.Reward.Code,
		"cost", out.Record.Cost,
		"redemption_id", out.Record.ID,
	)
	return out, nil
}

// issueVoucher generates a PREFIX-XXXX-XXXX code not yet used by any redemption.
func (r *Redemptions) issueVoucher(tx *gorm.DB) (string, error) {
	for i := 0; i < voucherAttempts; i++ {
		code, err := newVoucherCode(r.prefix)
		if err != nil {
			return "", err
		}
		var n int64
		if err := tx.Model(&models.RedemptionRecord{}).Where("voucher_code = ?", code).Count(&n).Error; err != nil {
			return "", mapStoreError("redeem.voucher_check", err)
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: could not allocate a unique voucher code", ErrConcurrentModification)
}

func newVoucherCode(prefix string) (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read voucher entropy: %w", err)
	}
	chars := make([]byte, len(b))
	for i, v := range b {
		chars[i] = voucherAlphabet[int(v)%len(voucherAlphabet)]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, chars[:4], chars[4:]), nil
}

// ListRewards returns the active catalog, cheapest first.
func (r *Redemptions) ListRewards(ctx context.Context) ([]models.Reward, error) {
	rewards := []models.Reward{}
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("cost ASC").Order("id ASC").Find(&rewards).Error; err != nil {
		return nil, mapStoreError("redeem.list_rewards", err)
	}
	return rewards, nil
}

// ListRedemptions returns the user's redemptions, newest first.
func (r *Redemptions) ListRedemptions(ctx context.Context, userID uint, page, pageSize int) ([]models.RedemptionRecord, int64, error) {
	page, pageSize = NormalizePage(page, pageSize)
	db := r.db.WithContext(ctx)
	var total int64
	if err := db.Model(&models.RedemptionRecord{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, mapStoreError("redeem.count", err)
	}
	records := []models.RedemptionRecord{}
	if err := db.Preload("Reward").Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&records).Error; err != nil {
		return nil, 0, mapStoreError("redeem.list", err)
	}
	return records, total, nil
}

// SyncRewards upserts catalog rewards by code. Stock is only set when a reward
// is first inserted so restarts never refill sold-out items.
func (r *Redemptions) SyncRewards(ctx context.Context, rewards []models.Reward) error {
	db := r.db.WithContext(ctx)
	for i := range rewards {
		row := rewards[i]
		row.ID = 0
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "category", "cost", "requires_voucher", "active", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return mapStoreError("redeem.sync_rewards", err)
		}
	}
	return nil
}

// DefaultRewards is the starter marketplace catalog.
func DefaultRewards() []models.Reward {
	stock := func(n int) *int { return &n }
	return []models.Reward{
		{Code: "COFFEE_VOUCHER", Name: "Coffee voucher", Description: "A coffee on us at partner cafés.", Category: "lifestyle", Cost: 150, RequiresVoucher: true, Active: true},
		{Code: "CINEMA_TICKET", Name: "Cinema ticket", Description: "One standard cinema ticket.", Category: "lifestyle", Cost: 600, Stock: stock(200), RequiresVoucher: true, Active: true},
		{Code: "POLICY_DISCOUNT_5", Name: "5% renewal discount", Description: "Five percent off your next policy renewal.", Category: "insurance", Cost: 1200, RequiresVoucher: true, Active: true},
		{Code: "ROADSIDE_UPGRADE", Name: "Roadside assistance upgrade", Description: "One year of premium roadside assistance.", Category: "insurance", Cost: 2500, Stock: stock(50), Active: true},
		{Code: "CHARITY_DONATION", Name: "Charity donation", Description: "We donate 5 EUR to a local charity in your name.", Category: "charity", Cost: 300, Active: true},
	}
}
