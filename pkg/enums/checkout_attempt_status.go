package enums

import "fmt"

type CheckoutAttemptStatus string

const (
	CheckoutAttemptPending   CheckoutAttemptStatus = "pending"
	CheckoutAttemptCompleted CheckoutAttemptStatus = "completed"
)

var validCheckoutAttemptStatuses = []CheckoutAttemptStatus{
	CheckoutAttemptPending,
	CheckoutAttemptCompleted,
}

func (s CheckoutAttemptStatus) String() string {
	return string(s)
}

func (s CheckoutAttemptStatus) IsValid() bool {
	for _, candidate := range validCheckoutAttemptStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseCheckoutAttemptStatus(value string) (CheckoutAttemptStatus, error) {
	for _, candidate := range validCheckoutAttemptStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout attempt status %q", value)
}

// CheckoutPurpose is what the client asks to buy; it maps onto an OrderType
// except for subscription sign-ups, which create no order.
type CheckoutPurpose string

const (
	CheckoutPurposeListingUnlock CheckoutPurpose = "listing_unlock"
	CheckoutPurposeSign          CheckoutPurpose = "sign"
	CheckoutPurposeSmartSign     CheckoutPurpose = "smart_sign"
	CheckoutPurposeListingKit    CheckoutPurpose = "listing_kit"
	CheckoutPurposeSubscription  CheckoutPurpose = "subscription"
)

var validCheckoutPurposes = []CheckoutPurpose{
	CheckoutPurposeListingUnlock,
	CheckoutPurposeSign,
	CheckoutPurposeSmartSign,
	CheckoutPurposeListingKit,
	CheckoutPurposeSubscription,
}

func (p CheckoutPurpose) IsValid() bool {
	for _, candidate := range validCheckoutPurposes {
		if candidate == p {
			return true
		}
	}
	return false
}

// OrderType returns the order type created for this purpose, if any.
func (p CheckoutPurpose) OrderType() (OrderType, bool) {
	if p == CheckoutPurposeSubscription {
		return "", false
	}
	t := OrderType(p)
	return t, t.IsValid()
}

func ParseCheckoutPurpose(value string) (CheckoutPurpose, error) {
	for _, candidate := range validCheckoutPurposes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout purpose %q", value)
}
