package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Order is a purchase of a single product type.
type Order struct {
	ID                      uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID                  uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	PropertyID              *uuid.UUID        `gorm:"column:property_id;type:uuid;index"`
	OrderType               enums.OrderType   `gorm:"column:order_type;type:text;not null"`
	Status                  enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending_payment'"`
	ProviderSessionID       *string           `gorm:"column:provider_session_id"`
	ProviderPaymentIntentID *string           `gorm:"column:provider_payment_intent_id"`
	AmountTotalCents        *int64            `gorm:"column:amount_total_cents"`
	Currency                *string           `gorm:"column:currency"`
	Shipping                datatypes.JSON    `gorm:"column:shipping;type:jsonb"`
	DesignArtifactKey       *string           `gorm:"column:design_artifact_key"`
	FulfillmentError        *string           `gorm:"column:fulfillment_error"`
	PaidAt                  *time.Time        `gorm:"column:paid_at"`
	FulfilledAt             *time.Time        `gorm:"column:fulfilled_at"`
	CreatedAt               time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
