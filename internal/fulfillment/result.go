package fulfillment

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

// Result summarizes one fulfillment run.
type Result struct {
	Duplicate            bool
	OrderID              uuid.UUID
	FulfillmentStatus    enums.OrderFulfillmentStatus
	SubOrders            []SubOrderSummary
	InsufficientStock    []InsufficientLine
	DigitalGrants        []GrantSummary
	FulfilledAmountCents int64
	ShortfallCents       int64
	PlatformFeeCents     int64
}

type SubOrderSummary struct {
	SubOrderID       uuid.UUID
	SellerID         uuid.UUID
	SettlementID     uuid.UUID
	GrossCents       int64
	PlatformFeeCents int64
	SettleCents      int64
	DeliveryStatus   enums.SubOrderDeliveryStatus
}

// InsufficientLine is a paid line the ledger could not cover.
type InsufficientLine struct {
	SellerID   uuid.UUID
	ProductID  uuid.UUID
	VariantID  *uuid.UUID
	Title      string
	Quantity   int
	GrossCents int64
}

type GrantSummary struct {
	GrantID     uuid.UUID
	SubOrderID  uuid.UUID
	ProductID   uuid.UUID
	Title       string
	DownloadURL string
	ExpiresAt   time.Time
}
