package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// CheckoutAttempt records one client-initiated checkout so retries with the
// same attempt token and parameters reuse the provider session.
type CheckoutAttempt struct {
	ID                uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	UserID            uuid.UUID                   `gorm:"column:user_id;type:uuid;not null;uniqueIndex:checkout_attempts_user_token_hash_key,priority:1"`
	OrderID           *uuid.UUID                  `gorm:"column:order_id;type:uuid"`
	Purpose           enums.CheckoutPurpose       `gorm:"column:purpose;type:text;not null"`
	AttemptToken      string                      `gorm:"column:attempt_token;not null;uniqueIndex:checkout_attempts_user_token_hash_key,priority:2"`
	IdempotencyKey    string                      `gorm:"column:idempotency_key;not null;uniqueIndex"`
	ParamsHash        string                      `gorm:"column:params_hash;not null;uniqueIndex:checkout_attempts_user_token_hash_key,priority:3"`
	ProviderSessionID *string                     `gorm:"column:provider_session_id"`
	SessionURL        *string                     `gorm:"column:session_url"`
	Status            enums.CheckoutAttemptStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	CreatedAt         time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}
