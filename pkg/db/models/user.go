package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// User represents the canonical identity entity along with its billing
// subscription state.
type User struct {
	ID                     uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	Email                  string                   `gorm:"column:email;type:text;not null;uniqueIndex"`
	SystemRole             *string                  `gorm:"column:system_role"`
	ProviderCustomerID     *string                  `gorm:"column:provider_customer_id"`
	ProviderSubscriptionID *string                  `gorm:"column:provider_subscription_id"`
	SubscriptionStatus     enums.SubscriptionStatus `gorm:"column:subscription_status;type:text;not null;default:'none'"`
	SubscriptionUpdatedAt  *time.Time               `gorm:"column:subscription_updated_at"`
	CreatedAt              time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
