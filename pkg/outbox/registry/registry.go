package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox/payloads"
)

// EventDescriptor says where an event type is published and how its data decodes.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row that passed validation.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that can never publish as stored.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

type audience int

const (
	customers audience = iota
	operators
)

type route struct {
	aggregate enums.OutboxAggregateType
	audience  audience
	payload   func() any
}

// routes lists every event the engine emits. Operator events describe
// conditions that need a human.
var routes = map[enums.OutboxEventType]route{
	enums.EventOrderPaid:           {enums.AggregateOrder, customers, func() any { return &payloads.OrderPaidEvent{} }},
	enums.EventOrderFulfilled:      {enums.AggregateOrder, customers, func() any { return &payloads.OrderFulfilledEvent{} }},
	enums.EventPrintJobQueued:      {enums.AggregatePrintJob, customers, func() any { return &payloads.PrintJobQueuedEvent{} }},
	enums.EventAssetActivated:      {enums.AggregateReusableAsset, customers, func() any { return &payloads.AssetActivatedEvent{} }},
	enums.EventAssetFrozen:         {enums.AggregateUser, customers, func() any { return &payloads.AssetFrozenEvent{} }},
	enums.EventDeliverableReady:    {enums.AggregateDeliverableJob, customers, func() any { return &payloads.DeliverableReadyEvent{} }},
	enums.EventSubscriptionChanged: {enums.AggregateUser, customers, func() any { return &payloads.SubscriptionChangedEvent{} }},
	enums.EventPrintJobFailed:      {enums.AggregateOrder, operators, func() any { return &payloads.PrintJobFailedEvent{} }},
	enums.EventDeliverableDead:     {enums.AggregateDeliverableJob, operators, func() any { return &payloads.DeliverableDeadEvent{} }},
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topics := map[audience]string{customers: cfg.FulfillmentTopic, operators: cfg.OperatorTopic}
	if topics[customers] == "" {
		return nil, errors.New("fulfillment topic is required")
	}
	if topics[operators] == "" {
		return nil, errors.New("operator topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(routes))}
	for eventType, rt := range routes {
		reg.entries[eventType] = EventDescriptor{
			EventType:      eventType,
			AggregateType:  rt.aggregate,
			Topic:          topics[rt.audience],
			PayloadFactory: rt.payload,
		}
	}
	return reg, nil
}

// Resolve checks the row against its descriptor and decodes the typed
// payload. Every failure is non-retryable: the stored row will not change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	env, err := outbox.OpenEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: env, Payload: payload}, nil
}
