package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder          OutboxAggregateType = "order"
	AggregatePrintJob       OutboxAggregateType = "print_job"
	AggregateReusableAsset  OutboxAggregateType = "reusable_asset"
	AggregateDeliverableJob OutboxAggregateType = "deliverable_job"
	AggregateUser           OutboxAggregateType = "user"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePrintJob,
	AggregateReusableAsset,
	AggregateDeliverableJob,
	AggregateUser,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderPaid           OutboxEventType = "order_paid"
	EventOrderFulfilled      OutboxEventType = "order_fulfilled"
	EventPrintJobQueued      OutboxEventType = "print_job_queued"
	EventPrintJobFailed      OutboxEventType = "print_job_failed"
	EventAssetActivated      OutboxEventType = "asset_activated"
	EventAssetFrozen         OutboxEventType = "asset_frozen"
	EventDeliverableReady    OutboxEventType = "deliverable_ready"
	EventDeliverableDead     OutboxEventType = "deliverable_dead"
	EventSubscriptionChanged OutboxEventType = "subscription_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPaid,
	EventOrderFulfilled,
	EventPrintJobQueued,
	EventPrintJobFailed,
	EventAssetActivated,
	EventAssetFrozen,
	EventDeliverableReady,
	EventDeliverableDead,
	EventSubscriptionChanged,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason records why the publisher gave up on an event.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: publishing kept failing until the retry budget ran out.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable: the event can never be published as stored
	// (unregistered type, bad payload).
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
