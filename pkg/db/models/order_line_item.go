package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

// OrderLineItem is a fulfilled cart line with its commission split.
type OrderLineItem struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID          uuid.UUID         `gorm:"column:order_id;type:uuid;not null"`
	SubOrderID       uuid.UUID         `gorm:"column:sub_order_id;type:uuid;not null"`
	ProductID        uuid.UUID         `gorm:"column:product_id;type:uuid;not null"`
	VariantID        *uuid.UUID        `gorm:"column:variant_id;type:uuid"`
	VariantLabel     *string           `gorm:"column:variant_label"`
	Kind             enums.ProductKind `gorm:"column:kind;type:product_kind;not null"`
	Title            string            `gorm:"column:title;not null"`
	Quantity         int               `gorm:"column:quantity;not null"`
	UnitPriceCents   int64             `gorm:"column:unit_price_cents;not null"`
	GrossCents       int64             `gorm:"column:gross_cents;not null"`
	PlatformFeeCents int64             `gorm:"column:platform_fee_cents;not null"`
	SettleCents      int64             `gorm:"column:settle_cents;not null"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (l *OrderLineItem) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
