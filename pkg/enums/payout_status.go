package enums

import "fmt"

// PayoutStatus tracks a settlement record through the payout process.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "PENDING"
	PayoutStatusProcessing PayoutStatus = "PROCESSING"
	PayoutStatusPaid       PayoutStatus = "PAID"
	PayoutStatusFailed     PayoutStatus = "FAILED"
)

var validPayoutStatuses = []PayoutStatus{
	PayoutStatusPending,
	PayoutStatusProcessing,
	PayoutStatusPaid,
	PayoutStatusFailed,
}

// String implements fmt.Stringer.
func (p PayoutStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayoutStatus.
func (p PayoutStatus) IsValid() bool {
	for _, candidate := range validPayoutStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePayoutStatus converts raw input into a PayoutStatus.
func ParsePayoutStatus(value string) (PayoutStatus, error) {
	for _, candidate := range validPayoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout status %q", value)
}

// CanTransitionTo reports whether the payout process may move a record from p to next.
func (p PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	switch p {
	case PayoutStatusPending:
		return next == PayoutStatusProcessing
	case PayoutStatusProcessing:
		return next == PayoutStatusPaid || next == PayoutStatusFailed
	case PayoutStatusFailed:
		return next == PayoutStatusPending
	default:
		return false
	}
}
