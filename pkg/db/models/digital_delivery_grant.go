package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DigitalDeliveryGrant authorizes a buyer to retrieve one digital asset until
// ExpiresAt. One-time grants are consumed by the first redemption.
type DigitalDeliveryGrant struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID  `gorm:"column:order_id;type:uuid;not null"`
	SubOrderID    uuid.UUID  `gorm:"column:sub_order_id;type:uuid;not null"`
	ProductID     uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	AssetKey      string     `gorm:"column:asset_key;not null"`
	BuyerEmail    string     `gorm:"column:buyer_email;not null"`
	ExpiresAt     time.Time  `gorm:"column:expires_at;not null"`
	OneTime       bool       `gorm:"column:one_time;not null;default:false"`
	ConsumedAt    *time.Time `gorm:"column:consumed_at"`
	DownloadCount int        `gorm:"column:download_count;not null;default:0"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (g *DigitalDeliveryGrant) BeforeCreate(*gorm.DB) error {
	ensureID(&g.ID)
	return nil
}

// Redeemable reports whether the grant can still be exchanged for a download at now.
func (g *DigitalDeliveryGrant) Redeemable(now time.Time) bool {
	if !g.ExpiresAt.After(now) {
		return false
	}
	return !g.OneTime || g.ConsumedAt == nil
}
