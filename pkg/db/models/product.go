package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

// Product is a seller listing. Physical products carry a base stock counter
// or a set of variants; digital products carry an asset key instead.
type Product struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	SellerID   uuid.UUID         `gorm:"column:seller_id;type:uuid;not null"`
	Kind       enums.ProductKind `gorm:"column:kind;type:product_kind;not null"`
	Title      string            `gorm:"column:title;not null"`
	PriceCents int64             `gorm:"column:price_cents;not null"`
	Currency   enums.Currency    `gorm:"column:currency;type:text;not null;default:'USD'"`
	Stock      int               `gorm:"column:stock;not null;default:0"`
	AssetKey   *string           `gorm:"column:asset_key"`
	IsActive   bool              `gorm:"column:is_active;not null;default:true"`
	Variants   []ProductVariant  `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// ProductVariant is a size option with its own price and stock counter.
type ProductVariant struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID  uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Label      string    `gorm:"column:label;not null"`
	PriceCents int64     `gorm:"column:price_cents;not null"`
	Stock      int       `gorm:"column:stock;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *ProductVariant) BeforeCreate(*gorm.DB) error {
	ensureID(&v.ID)
	return nil
}
