package enums

import "fmt"

// OrderFulfillmentStatus summarizes how much of a paid cart could be fulfilled.
type OrderFulfillmentStatus string

const (
	OrderFulfilled          OrderFulfillmentStatus = "fulfilled"
	OrderPartiallyFulfilled OrderFulfillmentStatus = "partially_fulfilled"
	OrderUnfulfilled        OrderFulfillmentStatus = "unfulfilled"
)

var validOrderFulfillmentStatuses = []OrderFulfillmentStatus{
	OrderFulfilled,
	OrderPartiallyFulfilled,
	OrderUnfulfilled,
}

// String implements fmt.Stringer.
func (o OrderFulfillmentStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderFulfillmentStatus.
func (o OrderFulfillmentStatus) IsValid() bool {
	for _, candidate := range validOrderFulfillmentStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOrderFulfillmentStatus converts raw input into a OrderFulfillmentStatus.
func ParseOrderFulfillmentStatus(value string) (OrderFulfillmentStatus, error) {
	for _, candidate := range validOrderFulfillmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order fulfillment status %q", value)
}
