package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

// SaleLine summarizes one fulfilled line for seller and buyer messages.
type SaleLine struct {
	ProductID  uuid.UUID         `json:"product_id"`
	Title      string            `json:"title"`
	Kind       enums.ProductKind `json:"kind"`
	Quantity   int               `json:"quantity"`
	GrossCents int64             `json:"gross_cents"`
}

// SellerSaleAlertEvent tells a seller that one of their sub-orders was paid.
type SellerSaleAlertEvent struct {
	OrderID              uuid.UUID                    `json:"order_id"`
	SubOrderID           uuid.UUID                    `json:"sub_order_id"`
	SellerID             uuid.UUID                    `json:"seller_id"`
	TransactionReference string                       `json:"transaction_reference"`
	DeliveryStatus       enums.SubOrderDeliveryStatus `json:"delivery_status"`
	ShippingMethod       *string                      `json:"shipping_method,omitempty"`
	GrossCents           int64                        `json:"gross_cents"`
	PlatformFeeCents     int64                        `json:"platform_fee_cents"`
	SettleCents          int64                        `json:"settle_cents"`
	Currency             string                       `json:"currency"`
	Lines                []SaleLine                   `json:"lines"`
}

// LowStockAlertEvent reports a paid line that could not be fulfilled.
type LowStockAlertEvent struct {
	OrderID              uuid.UUID  `json:"order_id"`
	SellerID             uuid.UUID  `json:"seller_id"`
	ProductID            uuid.UUID  `json:"product_id"`
	VariantID            *uuid.UUID `json:"variant_id,omitempty"`
	Title                string     `json:"title"`
	RequestedQuantity    int        `json:"requested_quantity"`
	TransactionReference string     `json:"transaction_reference"`
}

// DigitalDeliveryEvent carries the retrieval link for one digital line.
type DigitalDeliveryEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	SubOrderID  uuid.UUID `json:"sub_order_id"`
	GrantID     uuid.UUID `json:"grant_id"`
	ProductID   uuid.UUID `json:"product_id"`
	BuyerEmail  string    `json:"buyer_email"`
	Title       string    `json:"title"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// OrderConfirmationEvent is the buyer receipt, including lines that were short.
type OrderConfirmationEvent struct {
	OrderID              uuid.UUID                    `json:"order_id"`
	TransactionReference string                       `json:"transaction_reference"`
	BuyerEmail           string                       `json:"buyer_email"`
	PaidAmountCents      int64                        `json:"paid_amount_cents"`
	FulfilledAmountCents int64                        `json:"fulfilled_amount_cents"`
	ShortfallCents       int64                        `json:"shortfall_cents"`
	Currency             string                       `json:"currency"`
	FulfillmentStatus    enums.OrderFulfillmentStatus `json:"fulfillment_status"`
	SubOrderCount        int                          `json:"sub_order_count"`
	Lines                []SaleLine                   `json:"lines"`
	Unfulfilled          []SaleLine                   `json:"unfulfilled,omitempty"`
}

// SubOrderStatusChangedEvent tells the buyer about delivery progress.
type SubOrderStatusChangedEvent struct {
	OrderID         uuid.UUID                    `json:"order_id"`
	SubOrderID      uuid.UUID                    `json:"sub_order_id"`
	SellerID        uuid.UUID                    `json:"seller_id"`
	BuyerEmail      string                       `json:"buyer_email"`
	From            enums.SubOrderDeliveryStatus `json:"from"`
	To              enums.SubOrderDeliveryStatus `json:"to"`
	TrackingCarrier *string                      `json:"tracking_carrier,omitempty"`
	TrackingNumber  *string                      `json:"tracking_number,omitempty"`
}

// PayoutStatusChangedEvent tells a seller a settlement moved in the payout process.
type PayoutStatusChangedEvent struct {
	SettlementID  uuid.UUID          `json:"settlement_id"`
	SellerID      uuid.UUID          `json:"seller_id"`
	From          enums.PayoutStatus `json:"from"`
	To            enums.PayoutStatus `json:"to"`
	SettleCents   int64              `json:"settle_cents"`
	Currency      string             `json:"currency"`
	FailureReason *string            `json:"failure_reason,omitempty"`
}

// OrderFulfilledEvent is the analytics fact emitted once per committed order.
type OrderFulfilledEvent struct {
	OrderID              uuid.UUID                    `json:"order_id"`
	TransactionReference string                       `json:"transaction_reference"`
	BuyerID              uuid.UUID                    `json:"buyer_id"`
	SellerIDs            []uuid.UUID                  `json:"seller_ids"`
	PaidAmountCents      int64                        `json:"paid_amount_cents"`
	FulfilledAmountCents int64                        `json:"fulfilled_amount_cents"`
	ShortfallCents       int64                        `json:"shortfall_cents"`
	PlatformFeeCents     int64                        `json:"platform_fee_cents"`
	Currency             string                       `json:"currency"`
	FulfillmentStatus    enums.OrderFulfillmentStatus `json:"fulfillment_status"`
	LineCount            int                          `json:"line_count"`
	InsufficientCount    int                          `json:"insufficient_count"`
	DigitalGrantCount    int                          `json:"digital_grant_count"`
	FulfilledAt          time.Time                    `json:"fulfilled_at"`
}
