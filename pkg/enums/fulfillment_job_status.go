package enums

import "fmt"

// FulfillmentJobStatus is the queue state of a durable fulfillment job.
type FulfillmentJobStatus string

const (
	FulfillmentJobQueued       FulfillmentJobStatus = "queued"
	FulfillmentJobProcessing   FulfillmentJobStatus = "processing"
	FulfillmentJobSucceeded    FulfillmentJobStatus = "succeeded"
	FulfillmentJobDeadLettered FulfillmentJobStatus = "dead_lettered"
)

var validFulfillmentJobStatuses = []FulfillmentJobStatus{
	FulfillmentJobQueued,
	FulfillmentJobProcessing,
	FulfillmentJobSucceeded,
	FulfillmentJobDeadLettered,
}

// String implements fmt.Stringer.
func (f FulfillmentJobStatus) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FulfillmentJobStatus.
func (f FulfillmentJobStatus) IsValid() bool {
	for _, candidate := range validFulfillmentJobStatuses {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFulfillmentJobStatus converts raw input into a FulfillmentJobStatus.
func ParseFulfillmentJobStatus(value string) (FulfillmentJobStatus, error) {
	for _, candidate := range validFulfillmentJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment job status %q", value)
}
