package users

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Repository exposes user and subscription-state persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a copy of the repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts a new user with no subscription.
func (r *Repository) Create(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{
		ID:                 uuid.New(),
		Email:              strings.ToLower(strings.TrimSpace(email)),
		SubscriptionStatus: enums.SubscriptionStatusNone,
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByProviderCustomer loads the user linked to a billing customer.
func (r *Repository) FindByProviderCustomer(ctx context.Context, customerID string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("provider_customer_id = ?", customerID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByProviderSubscription loads the user linked to a billing subscription.
func (r *Repository) FindByProviderSubscription(ctx context.Context, subscriptionID string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("provider_subscription_id = ?", subscriptionID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// LinkProvider records the billing customer and subscription ids on the user.
func (r *Repository) LinkProvider(ctx context.Context, id uuid.UUID, customerID, subscriptionID string) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if customerID != "" {
		updates["provider_customer_id"] = customerID
	}
	if subscriptionID != "" {
		updates["provider_subscription_id"] = subscriptionID
	}
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateSubscriptionStatus stores the latest provider subscription status.
func (r *Repository) UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status enums.SubscriptionStatus, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"subscription_status":     status,
			"subscription_updated_at": at.UTC(),
			"updated_at":              time.Now().UTC(),
		}).Error
}
