package enums

import "fmt"

// PaymentEventStatus tracks a provider event through ingestion.
type PaymentEventStatus string

const (
	PaymentEventReceived  PaymentEventStatus = "received"
	PaymentEventProcessed PaymentEventStatus = "processed"
	PaymentEventFailed    PaymentEventStatus = "failed"
)

var validPaymentEventStatuses = []PaymentEventStatus{
	PaymentEventReceived,
	PaymentEventProcessed,
	PaymentEventFailed,
}

// String implements fmt.Stringer.
func (s PaymentEventStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PaymentEventStatus.
func (s PaymentEventStatus) IsValid() bool {
	for _, candidate := range validPaymentEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePaymentEventStatus converts raw input into a PaymentEventStatus.
func ParsePaymentEventStatus(value string) (PaymentEventStatus, error) {
	for _, candidate := range validPaymentEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment event status %q", value)
}
