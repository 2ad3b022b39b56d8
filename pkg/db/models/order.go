package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/types"
)

// Order is the buyer-facing record of one verified transaction.
type Order struct {
	ID                   uuid.UUID                    `gorm:"column:id;type:uuid;primaryKey"`
	TransactionReference string                       `gorm:"column:transaction_reference;not null;uniqueIndex"`
	CheckoutSessionID    *uuid.UUID                   `gorm:"column:checkout_session_id;type:uuid"`
	BuyerID              uuid.UUID                    `gorm:"column:buyer_id;type:uuid;not null"`
	BuyerEmail           string                       `gorm:"column:buyer_email;not null"`
	SellerIDs            types.UUIDList               `gorm:"column:seller_ids;type:jsonb;not null"`
	PaidAmountCents      int64                        `gorm:"column:paid_amount_cents;not null"`
	FulfilledAmountCents int64                        `gorm:"column:fulfilled_amount_cents;not null"`
	ShortfallCents       int64                        `gorm:"column:shortfall_cents;not null;default:0"`
	Currency             enums.Currency               `gorm:"column:currency;type:text;not null;default:'USD'"`
	PaymentStatus        enums.PaymentStatus          `gorm:"column:payment_status;type:payment_status;not null;default:'paid'"`
	FulfillmentStatus    enums.OrderFulfillmentStatus `gorm:"column:fulfillment_status;type:order_fulfillment_status;not null"`
	DeliveryAddress      types.Address                `gorm:"column:delivery_address;type:jsonb"`
	SubOrders            []SubOrder                   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt            time.Time                    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                    `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// SubOrder is one seller's share of an Order.
type SubOrder struct {
	ID                uuid.UUID                    `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID                    `gorm:"column:order_id;type:uuid;not null"`
	SellerID          uuid.UUID                    `gorm:"column:seller_id;type:uuid;not null"`
	Position          int                          `gorm:"column:position;not null"`
	ShippingMethod    *string                      `gorm:"column:shipping_method"`
	ShippingCostCents int64                        `gorm:"column:shipping_cost_cents;not null;default:0"`
	SubtotalCents     int64                        `gorm:"column:subtotal_cents;not null"`
	PlatformFeeCents  int64                        `gorm:"column:platform_fee_cents;not null"`
	SettleCents       int64                        `gorm:"column:settle_cents;not null"`
	DeliveryStatus    enums.SubOrderDeliveryStatus `gorm:"column:delivery_status;type:sub_order_delivery_status;not null"`
	TrackingCarrier   *string                      `gorm:"column:tracking_carrier"`
	TrackingNumber    *string                      `gorm:"column:tracking_number"`
	DeliveredAt       *time.Time                   `gorm:"column:delivered_at"`
	Items             []OrderLineItem              `gorm:"foreignKey:SubOrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time                    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                    `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *SubOrder) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
