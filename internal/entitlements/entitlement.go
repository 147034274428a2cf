// Package entitlements owns the single definition of "paid". Every caller that
// gates on payment (asset assignment, freeze decisions, deliverable enqueue)
// goes through IsPaid; status literals are compared nowhere else.
package entitlements

import "github.com/angelmondragon/fulfillment-engine/pkg/enums"

// OrderFact is the slice of an order the entitlement decision depends on.
type OrderFact struct {
	OrderType enums.OrderType
	Status    enums.OrderStatus
}

// Inputs is everything IsPaid looks at.
type Inputs struct {
	SubscriptionStatus enums.SubscriptionStatus
	Orders             []OrderFact
}

// IsPaid reports whether the subscription or any resource-unlocking order
// grants access. It performs no I/O.
func IsPaid(in Inputs) bool {
	if IsSubscriptionActive(in.SubscriptionStatus) {
		return true
	}
	for _, order := range in.Orders {
		if UnlocksResource(order.OrderType) && IsPaidStatus(order.Status) {
			return true
		}
	}
	return false
}

// IsSubscriptionActive is true for active and trialing subscriptions.
func IsSubscriptionActive(status enums.SubscriptionStatus) bool {
	return status.IsEntitling()
}

// IsPaidStatus is true once payment has been captured and the order has not
// fallen into print_failed.
func IsPaidStatus(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusPaid, enums.OrderStatusSubmittedToPrinter, enums.OrderStatusFulfilled:
		return true
	default:
		return false
	}
}

// UnlocksResource reports whether a paid order of this type unlocks its
// property. Listing kits are a separate product and never do.
func UnlocksResource(orderType enums.OrderType) bool {
	switch orderType {
	case enums.OrderTypeListingUnlock, enums.OrderTypeSign, enums.OrderTypeSmartSign:
		return true
	default:
		return false
	}
}

// HasPaidListingKit reports whether orders contain a paid listing kit.
func HasPaidListingKit(orders []OrderFact) bool {
	for _, order := range orders {
		if order.OrderType == enums.OrderTypeListingKit && IsPaidStatus(order.Status) {
			return true
		}
	}
	return false
}
