package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// DeliverableJob is a digital artifact generated off the request path.
type DeliverableJob struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	Kind           enums.DeliverableKind   `gorm:"column:kind;type:text;not null"`
	UserID         uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	PropertyID     uuid.UUID               `gorm:"column:property_id;type:uuid;not null"`
	OrderID        *uuid.UUID              `gorm:"column:order_id;type:uuid;uniqueIndex"`
	Status         enums.DeliverableStatus `gorm:"column:status;type:text;not null;default:'queued'"`
	AttemptCount   int                     `gorm:"column:attempt_count;not null;default:0"`
	MaxAttempts    int                     `gorm:"column:max_attempts;not null"`
	NextAttemptAt  *time.Time              `gorm:"column:next_attempt_at"`
	LockedBy       *string                 `gorm:"column:locked_by"`
	LeaseExpiresAt *time.Time              `gorm:"column:lease_expires_at"`
	ResultRef      *string                 `gorm:"column:result_ref"`
	LastError      *string                 `gorm:"column:last_error"`
	CreatedAt      time.Time               `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
