package enums

import "fmt"

// SubscriptionStatus mirrors the billing provider's subscription state. None
// means the user never subscribed.
type SubscriptionStatus string

const (
	SubscriptionStatusNone              SubscriptionStatus = "none"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusNone,
		SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusCanceled,
		SubscriptionStatusIncomplete,
		SubscriptionStatusIncompleteExpired,
		SubscriptionStatusUnpaid,
		SubscriptionStatusPaused:
		return true
	}
	return false
}

// IsEntitling reports whether the status grants subscriber benefits. Past due
// does not: the grace period is the provider's retry schedule, not ours.
func (s SubscriptionStatus) IsEntitling() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// ParseSubscriptionStatus accepts the provider's spelling, which is also ours.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	s := SubscriptionStatus(value)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid subscription status %q", value)
	}
	return s, nil
}
