package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregateSubOrder     OutboxAggregateType = "sub_order"
	AggregateSettlement   OutboxAggregateType = "settlement"
	AggregateDigitalGrant OutboxAggregateType = "digital_grant"
	AggregateProduct      OutboxAggregateType = "product"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateSubOrder,
	AggregateSettlement,
	AggregateDigitalGrant,
	AggregateProduct,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventSellerSaleAlert       OutboxEventType = "seller_sale_alert"
	EventLowStockAlert         OutboxEventType = "low_stock_alert"
	EventDigitalDelivery       OutboxEventType = "digital_delivery"
	EventOrderConfirmation     OutboxEventType = "order_confirmation"
	EventSubOrderStatusChanged OutboxEventType = "sub_order_status_changed"
	EventPayoutStatusChanged   OutboxEventType = "payout_status_changed"
	EventOrderFulfilled        OutboxEventType = "order_fulfilled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventSellerSaleAlert,
	EventLowStockAlert,
	EventDigitalDelivery,
	EventOrderConfirmation,
	EventSubOrderStatusChanged,
	EventPayoutStatusChanged,
	EventOrderFulfilled,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
