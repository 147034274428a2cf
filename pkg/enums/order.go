package enums

import "fmt"

// OrderType identifies what a purchase buys.
type OrderType string

const (
	OrderTypeListingUnlock OrderType = "listing_unlock"
	OrderTypeSign          OrderType = "sign"
	OrderTypeSmartSign     OrderType = "smart_sign"
	OrderTypeListingKit    OrderType = "listing_kit"
)

var validOrderTypes = []OrderType{
	OrderTypeListingUnlock,
	OrderTypeSign,
	OrderTypeSmartSign,
	OrderTypeListingKit,
}

// String implements fmt.Stringer.
func (t OrderType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known OrderType.
func (t OrderType) IsValid() bool {
	for _, candidate := range validOrderTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsPhysical reports whether the order produces a printed artifact.
func (t OrderType) IsPhysical() bool {
	return t == OrderTypeSign || t == OrderTypeSmartSign
}

// ParseOrderType converts raw input into an OrderType.
func ParseOrderType(value string) (OrderType, error) {
	for _, candidate := range validOrderTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order type %q", value)
}

// OrderStatus is the canonical order lifecycle.
type OrderStatus string

const (
	OrderStatusPendingPayment     OrderStatus = "pending_payment"
	OrderStatusPaid               OrderStatus = "paid"
	OrderStatusSubmittedToPrinter OrderStatus = "submitted_to_printer"
	OrderStatusPrintFailed        OrderStatus = "print_failed"
	OrderStatusFulfilled          OrderStatus = "fulfilled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusPaid,
	OrderStatusSubmittedToPrinter,
	OrderStatusPrintFailed,
	OrderStatusFulfilled,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
