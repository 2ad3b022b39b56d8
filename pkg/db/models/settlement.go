package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

// SettlementRecord is the amount owed to a seller for one sub-order.
type SettlementRecord struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	SellerID         uuid.UUID          `gorm:"column:seller_id;type:uuid;not null"`
	OrderID          uuid.UUID          `gorm:"column:order_id;type:uuid;not null"`
	SubOrderID       uuid.UUID          `gorm:"column:sub_order_id;type:uuid;not null;uniqueIndex"`
	GrossCents       int64              `gorm:"column:gross_cents;not null"`
	PlatformFeeCents int64              `gorm:"column:platform_fee_cents;not null"`
	SettleCents      int64              `gorm:"column:settle_cents;not null"`
	Currency         enums.Currency     `gorm:"column:currency;type:text;not null;default:'USD'"`
	PayoutStatus     enums.PayoutStatus `gorm:"column:payout_status;type:payout_status;not null;default:'PENDING'"`
	PayoutAccountRef *string            `gorm:"column:payout_account_ref"`
	PayoutReference  *string            `gorm:"column:payout_reference"`
	FailureReason    *string            `gorm:"column:failure_reason"`
	ProcessingAt     *time.Time         `gorm:"column:processing_at"`
	PaidAt           *time.Time         `gorm:"column:paid_at"`
	FailedAt         *time.Time         `gorm:"column:failed_at"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *SettlementRecord) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// SellerAccount holds a seller's running balances. It is mutated only by the
// settlement ledger.
type SellerAccount struct {
	SellerID            uuid.UUID `gorm:"column:seller_id;type:uuid;primaryKey"`
	PayoutAccountRef    *string   `gorm:"column:payout_account_ref"`
	PendingBalanceCents int64     `gorm:"column:pending_balance_cents;not null;default:0"`
	TotalEarningsCents  int64     `gorm:"column:total_earnings_cents;not null;default:0"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
