package enums

import "fmt"

// SubOrderDeliveryStatus tracks delivery progress of a single seller's sub-order.
type SubOrderDeliveryStatus string

const (
	DeliveryOrderPlaced    SubOrderDeliveryStatus = "order_placed"
	DeliveryProcessing     SubOrderDeliveryStatus = "processing"
	DeliveryOutForDelivery SubOrderDeliveryStatus = "out_for_delivery"
	DeliveryDelivered      SubOrderDeliveryStatus = "delivered"
	DeliveryViaDownload    SubOrderDeliveryStatus = "delivered_via_download"
)

var validSubOrderDeliveryStatuses = []SubOrderDeliveryStatus{
	DeliveryOrderPlaced,
	DeliveryProcessing,
	DeliveryOutForDelivery,
	DeliveryDelivered,
	DeliveryViaDownload,
}

// String implements fmt.Stringer.
func (s SubOrderDeliveryStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SubOrderDeliveryStatus.
func (s SubOrderDeliveryStatus) IsValid() bool {
	for _, candidate := range validSubOrderDeliveryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSubOrderDeliveryStatus converts raw input into a SubOrderDeliveryStatus.
func ParseSubOrderDeliveryStatus(value string) (SubOrderDeliveryStatus, error) {
	for _, candidate := range validSubOrderDeliveryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sub-order delivery status %q", value)
}

// IsTerminal reports whether no further transition is allowed.
func (s SubOrderDeliveryStatus) IsTerminal() bool {
	return s == DeliveryDelivered || s == DeliveryViaDownload
}

// CanTransitionTo allows only the single forward step of the physical
// delivery chain. Downloads are created delivered and never move.
func (s SubOrderDeliveryStatus) CanTransitionTo(next SubOrderDeliveryStatus) bool {
	switch s {
	case DeliveryOrderPlaced:
		return next == DeliveryProcessing
	case DeliveryProcessing:
		return next == DeliveryOutForDelivery
	case DeliveryOutForDelivery:
		return next == DeliveryDelivered
	default:
		return false
	}
}
