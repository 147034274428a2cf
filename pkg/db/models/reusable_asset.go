package models

import (
	"time"

	"github.com/google/uuid"
)

// ReusableAsset is a smart sign: a permanent public code that resolves to
// whichever property it is currently assigned to.
type ReusableAsset struct {
	ID                uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Code              string     `gorm:"column:code;not null;uniqueIndex"`
	OwnerID           uuid.UUID  `gorm:"column:owner_id;type:uuid;not null;index"`
	ActiveTargetID    *uuid.UUID `gorm:"column:active_target_id;type:uuid"`
	ActivationOrderID *uuid.UUID `gorm:"column:activation_order_id;type:uuid;uniqueIndex"`
	ActivatedAt       *time.Time `gorm:"column:activated_at"`
	IsFrozen          bool       `gorm:"column:is_frozen;not null;default:false"`
	FrozenAt          *time.Time `gorm:"column:frozen_at"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// IsActivated reports whether the asset has been paid for and activated.
func (a ReusableAsset) IsActivated() bool {
	return a.ActivatedAt != nil
}

// AssetReassignmentHistory is an append-only audit row for target changes.
type AssetReassignmentHistory struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	AssetID     uuid.UUID  `gorm:"column:asset_id;type:uuid;not null;index"`
	OldTargetID *uuid.UUID `gorm:"column:old_target_id;type:uuid"`
	NewTargetID *uuid.UUID `gorm:"column:new_target_id;type:uuid"`
	ChangedBy   uuid.UUID  `gorm:"column:changed_by;type:uuid;not null"`
	ChangedAt   time.Time  `gorm:"column:changed_at;not null"`
}

func (AssetReassignmentHistory) TableName() string { return "asset_reassignment_history" }
