package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/types"
)

// Viewer is the authenticated caller asking about an order.
type Viewer struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// OrderStatus answers an order-status query. Before the worker commits the
// order only the queue fields are set.
type OrderStatus struct {
	TransactionReference string                      `json:"transaction_reference"`
	QueueStatus          *enums.FulfillmentJobStatus `json:"queue_status,omitempty"`
	Order                *OrderDTO                   `json:"order,omitempty"`
}

type OrderDTO struct {
	ID                   uuid.UUID                    `json:"id"`
	BuyerID              uuid.UUID                    `json:"buyer_id"`
	PaidAmountCents      int64                        `json:"paid_amount_cents"`
	FulfilledAmountCents int64                        `json:"fulfilled_amount_cents"`
	ShortfallCents       int64                        `json:"shortfall_cents"`
	Currency             enums.Currency               `json:"currency"`
	PaymentStatus        enums.PaymentStatus          `json:"payment_status"`
	FulfillmentStatus    enums.OrderFulfillmentStatus `json:"fulfillment_status"`
	DeliveryAddress      *types.Address               `json:"delivery_address,omitempty"`
	SubOrders            []SubOrderDTO                `json:"sub_orders"`
	CreatedAt            time.Time                    `json:"created_at"`
}

type SubOrderDTO struct {
	ID                uuid.UUID                    `json:"id"`
	SellerID          uuid.UUID                    `json:"seller_id"`
	ShippingMethod    *string                      `json:"shipping_method,omitempty"`
	ShippingCostCents int64                        `json:"shipping_cost_cents"`
	SubtotalCents     int64                        `json:"subtotal_cents"`
	DeliveryStatus    enums.SubOrderDeliveryStatus `json:"delivery_status"`
	TrackingCarrier   *string                      `json:"tracking_carrier,omitempty"`
	TrackingNumber    *string                      `json:"tracking_number,omitempty"`
	DeliveredAt       *time.Time                   `json:"delivered_at,omitempty"`
	Items             []LineItemDTO                `json:"items"`
}

type LineItemDTO struct {
	ProductID      uuid.UUID         `json:"product_id"`
	VariantLabel   *string           `json:"variant_label,omitempty"`
	Kind           enums.ProductKind `json:"kind"`
	Title          string            `json:"title"`
	Quantity       int               `json:"quantity"`
	UnitPriceCents int64             `json:"unit_price_cents"`
	GrossCents     int64             `json:"gross_cents"`
}

// DeliveryTransitionInput moves a sub-order one step along its delivery chain.
type DeliveryTransitionInput struct {
	SubOrderID      uuid.UUID
	To              enums.SubOrderDeliveryStatus
	TrackingCarrier *string
	TrackingNumber  *string
	ActorUserID     uuid.UUID
	ActorRole       enums.ActorRole
}

func toOrderDTO(order models.Order) *OrderDTO {
	dto := &OrderDTO{
		ID:                   order.ID,
		BuyerID:              order.BuyerID,
		PaidAmountCents:      order.PaidAmountCents,
		FulfilledAmountCents: order.FulfilledAmountCents,
		ShortfallCents:       order.ShortfallCents,
		Currency:             order.Currency,
		PaymentStatus:        order.PaymentStatus,
		FulfillmentStatus:    order.FulfillmentStatus,
		SubOrders:            make([]SubOrderDTO, 0, len(order.SubOrders)),
		CreatedAt:            order.CreatedAt,
	}
	if !order.DeliveryAddress.IsZero() {
		addr := order.DeliveryAddress
		dto.DeliveryAddress = &addr
	}
	for _, sub := range order.SubOrders {
		subDTO := SubOrderDTO{
			ID:                sub.ID,
			SellerID:          sub.SellerID,
			ShippingMethod:    sub.ShippingMethod,
			ShippingCostCents: sub.ShippingCostCents,
			SubtotalCents:     sub.SubtotalCents,
			DeliveryStatus:    sub.DeliveryStatus,
			TrackingCarrier:   sub.TrackingCarrier,
			TrackingNumber:    sub.TrackingNumber,
			DeliveredAt:       sub.DeliveredAt,
			Items:             make([]LineItemDTO, 0, len(sub.Items)),
		}
		for _, item := range sub.Items {
			subDTO.Items = append(subDTO.Items, LineItemDTO{
				ProductID:      item.ProductID,
				VariantLabel:   item.VariantLabel,
				Kind:           item.Kind,
				Title:          item.Title,
				Quantity:       item.Quantity,
				UnitPriceCents: item.UnitPriceCents,
				GrossCents:     item.GrossCents,
			})
		}
		dto.SubOrders = append(dto.SubOrders, subDTO)
	}
	return dto
}
