package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// PrintJob is a unit of physical print work handed to the external fleet.
type PrintJob struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	IdempotencyKey string               `gorm:"column:idempotency_key;not null;uniqueIndex"`
	Status         enums.PrintJobStatus `gorm:"column:status;type:text;not null;default:'queued'"`
	ClaimedBy      *string              `gorm:"column:claimed_by"`
	ClaimedAt      *time.Time           `gorm:"column:claimed_at"`
	DownloadedAt   *time.Time           `gorm:"column:downloaded_at"`
	PrintedAt      *time.Time           `gorm:"column:printed_at"`
	FailedAt       *time.Time           `gorm:"column:failed_at"`
	FailureReason  *string              `gorm:"column:failure_reason"`
	ArtifactRef    string               `gorm:"column:artifact_ref;not null"`
	MetadataRef    string               `gorm:"column:metadata_ref;not null"`
	CreatedAt      time.Time            `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
