package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// PaymentEvent is the durable ingestion record for a provider webhook.
// EventID is the provider-assigned identifier and the primary key.
type PaymentEvent struct {
	EventID       string                   `gorm:"column:event_id;primaryKey"`
	EventType     string                   `gorm:"column:event_type;not null"`
	Status        enums.PaymentEventStatus `gorm:"column:status;type:text;not null;default:'received'"`
	Payload       datatypes.JSON           `gorm:"column:payload;type:jsonb;not null"`
	AttemptCount  int                      `gorm:"column:attempt_count;not null;default:1"`
	ReceivedAt    time.Time                `gorm:"column:received_at;not null"`
	ProcessedAt   *time.Time               `gorm:"column:processed_at"`
	FailureReason *string                  `gorm:"column:failure_reason"`
	UpdatedAt     time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
