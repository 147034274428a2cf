package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// OrderPaidEvent is emitted when a provider payment moves an order to paid.
type OrderPaidEvent struct {
	OrderID         uuid.UUID       `json:"order_id"`
	UserID          uuid.UUID       `json:"user_id"`
	OrderType       enums.OrderType `json:"order_type"`
	PropertyID      *uuid.UUID      `json:"property_id,omitempty"`
	ProviderEventID string          `json:"provider_event_id"`
	PaidAt          time.Time       `json:"paid_at"`
}

// OrderFulfilledEvent is emitted when the fleet confirms a print.
type OrderFulfilledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	PrintJobID  uuid.UUID `json:"print_job_id"`
	WorkerID    string    `json:"worker_id"`
	FulfilledAt time.Time `json:"fulfilled_at"`
}

// PrintJobQueuedEvent tells the fleet a new job is claimable.
type PrintJobQueuedEvent struct {
	JobID       uuid.UUID       `json:"job_id"`
	OrderID     uuid.UUID       `json:"order_id"`
	OrderType   enums.OrderType `json:"order_type"`
	ArtifactRef string          `json:"artifact_ref"`
	MetadataRef string          `json:"metadata_ref"`
}

// PrintJobFailedEvent surfaces a parked job to operators.
type PrintJobFailedEvent struct {
	JobID    uuid.UUID `json:"job_id"`
	OrderID  uuid.UUID `json:"order_id"`
	WorkerID string    `json:"worker_id,omitempty"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// AssetActivatedEvent is emitted once per smart sign activation.
type AssetActivatedEvent struct {
	AssetID        uuid.UUID  `json:"asset_id"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	OrderID        uuid.UUID  `json:"order_id"`
	Code           string     `json:"code"`
	ActiveTargetID *uuid.UUID `json:"active_target_id,omitempty"`
}

// AssetFrozenEvent lists the assets frozen after a subscription lapsed.
type AssetFrozenEvent struct {
	OwnerID            uuid.UUID                `json:"owner_id"`
	AssetIDs           []uuid.UUID              `json:"asset_ids"`
	SubscriptionStatus enums.SubscriptionStatus `json:"subscription_status"`
}

// DeliverableReadyEvent points consumers at a finished artifact.
type DeliverableReadyEvent struct {
	JobID     uuid.UUID             `json:"job_id"`
	UserID    uuid.UUID             `json:"user_id"`
	Kind      enums.DeliverableKind `json:"kind"`
	ResultRef string                `json:"result_ref"`
}

// DeliverableDeadEvent is the operator alert for an exhausted job.
type DeliverableDeadEvent struct {
	JobID        uuid.UUID             `json:"job_id"`
	UserID       uuid.UUID             `json:"user_id"`
	Kind         enums.DeliverableKind `json:"kind"`
	AttemptCount int                   `json:"attempt_count"`
	LastError    string                `json:"last_error"`
}

// SubscriptionChangedEvent records a provider-driven subscription transition.
type SubscriptionChangedEvent struct {
	UserID         uuid.UUID                `json:"user_id"`
	SubscriptionID string                   `json:"subscription_id,omitempty"`
	Status         enums.SubscriptionStatus `json:"status"`
}
