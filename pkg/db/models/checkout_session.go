package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/types"
)

// CheckoutSession is the priced cart snapshot the buyer paid for. Its id is
// passed to the payment provider as the payment reference_id.
type CheckoutSession struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID            uuid.UUID                `gorm:"column:buyer_id;type:uuid;not null"`
	BuyerEmail         string                   `gorm:"column:buyer_email;not null"`
	LineItems          types.CartLineItems      `gorm:"column:line_items;type:jsonb;not null"`
	ShippingSelections types.ShippingSelections `gorm:"column:shipping_selections;type:jsonb;not null"`
	DeliveryAddress    types.Address            `gorm:"column:delivery_address;type:jsonb"`
	SubtotalCents      int64                    `gorm:"column:subtotal_cents;not null"`
	ShippingCents      int64                    `gorm:"column:shipping_cents;not null;default:0"`
	TotalCents         int64                    `gorm:"column:total_cents;not null"`
	Currency           enums.Currency           `gorm:"column:currency;type:text;not null;default:'USD'"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
}

func (c *CheckoutSession) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
