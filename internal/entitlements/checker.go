package entitlements

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Checker loads entitlement inputs from the store and evaluates IsPaid.
type Checker struct {
	db *gorm.DB
}

func NewChecker(db *gorm.DB) *Checker {
	return &Checker{db: db}
}

// WithTx binds the checker to tx so reads observe uncommitted writes made
// earlier in the same transaction.
func (c *Checker) WithTx(tx *gorm.DB) *Checker {
	if tx == nil {
		return c
	}
	return &Checker{db: tx}
}

// ResourcePaid reports whether the property is unlocked: its owner subscribes,
// or any order referencing it is a paid unlocking order.
func (c *Checker) ResourcePaid(ctx context.Context, propertyID uuid.UUID) (bool, error) {
	var property models.Property
	if err := c.db.WithContext(ctx).Select("id", "owner_id").Where("id = ?", propertyID).First(&property).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	status, err := c.subscriptionStatus(ctx, property.OwnerID)
	if err != nil {
		return false, err
	}
	facts, err := c.orderFacts(ctx, "property_id = ?", propertyID)
	if err != nil {
		return false, err
	}
	return IsPaid(Inputs{SubscriptionStatus: status, Orders: facts}), nil
}

// OwnerPaid evaluates the user's subscription together with the orders named
// in backingOrderIDs. Orders belonging to other users are ignored.
func (c *Checker) OwnerPaid(ctx context.Context, userID uuid.UUID, backingOrderIDs ...uuid.UUID) (bool, error) {
	status, err := c.subscriptionStatus(ctx, userID)
	if err != nil {
		return false, err
	}
	var facts []OrderFact
	if len(backingOrderIDs) > 0 {
		facts, err = c.orderFacts(ctx, "user_id = ? AND id IN ?", userID, backingOrderIDs)
		if err != nil {
			return false, err
		}
	}
	return IsPaid(Inputs{SubscriptionStatus: status, Orders: facts}), nil
}

// ListingKitPaid reports whether the user bought a listing kit for the property.
func (c *Checker) ListingKitPaid(ctx context.Context, userID, propertyID uuid.UUID) (bool, error) {
	facts, err := c.orderFacts(ctx, "user_id = ? AND property_id = ?", userID, propertyID)
	if err != nil {
		return false, err
	}
	return HasPaidListingKit(facts), nil
}

func (c *Checker) subscriptionStatus(ctx context.Context, userID uuid.UUID) (enums.SubscriptionStatus, error) {
	var user models.User
	err := c.db.WithContext(ctx).Select("id", "subscription_status").Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return enums.SubscriptionStatusNone, nil
		}
		return "", err
	}
	return user.SubscriptionStatus, nil
}

func (c *Checker) orderFacts(ctx context.Context, query string, args ...any) ([]OrderFact, error) {
	var rows []models.Order
	if err := c.db.WithContext(ctx).Model(&models.Order{}).
		Select("order_type", "status").
		Where(query, args...).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	facts := make([]OrderFact, 0, len(rows))
	for _, row := range rows {
		facts = append(facts, OrderFact{OrderType: row.OrderType, Status: row.Status})
	}
	return facts, nil
}
