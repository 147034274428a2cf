package models

import (
	"time"

	"github.com/google/uuid"
)

// Property is a resolution target for reusable assets.
type Property struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID   uuid.UUID `gorm:"column:owner_id;type:uuid;not null;index"`
	Address   string    `gorm:"column:address;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
