package models

import "time"

// Reward is a marketplace item that can be bought with coins.
type Reward struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Code            string    `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Name            string    `gorm:"size:128;not null" json:"name"`
	Description     string    `gorm:"size:255" json:"description"`
	Category        string    `gorm:"size:32;index" json:"category"`
	Cost            int64     `gorm:"not null" json:"cost"`
	Stock           *int      `json:"stock"` // nil means unlimited
	RequiresVoucher bool      `gorm:"not null;default:false" json:"requires_voucher"`
	Active          bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RedemptionStatus tracks a redemption through its lifecycle.
type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "PENDING"
	RedemptionCompleted RedemptionStatus = "COMPLETED"
	RedemptionFailed    RedemptionStatus = "FAILED"
)

// RedemptionRecord is written once per successful redemption.
type RedemptionRecord struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	UserID        uint             `gorm:"index;not null" json:"user_id"`
	RewardID      uint             `gorm:"index;not null" json:"reward_id"`
	Cost          int64            `gorm:"not null" json:"cost"`
	Status        RedemptionStatus `gorm:"size:16;not null" json:"status"`
	VoucherCode   *string          `gorm:"size:32;uniqueIndex" json:"voucher_code,omitempty"`
	LedgerEntryID *uint            `json:"ledger_entry_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	Reward        *Reward          `gorm:"foreignKey:RewardID" json:"reward,omitempty"`
}
