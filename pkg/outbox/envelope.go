package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// EnvelopeVersion is written when a DomainEvent leaves Version unset.
const EnvelopeVersion = 1

// ErrEmptyPayload is returned by OpenEnvelope for an absent or null data field.
var ErrEmptyPayload = errors.New("envelope carries no data")

// DomainEvent is a fulfillment fact to publish once the surrounding
// transaction commits.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

// ActorRef names whoever caused the event. Webhook-driven events have none.
type ActorRef struct {
	UserID   *uuid.UUID `json:"userId,omitempty"`
	WorkerID string     `json:"workerId,omitempty"`
	Role     string     `json:"role,omitempty"`
}

// PayloadEnvelope is the JSON document stored in outbox_events.payload and
// published verbatim as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// Seal wraps the event's data in a new envelope and encodes it.
func Seal(event DomainEvent) (PayloadEnvelope, []byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	env := PayloadEnvelope{
		Version:    event.Version,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt,
		Actor:      event.Actor,
		Data:       data,
	}
	if env.Version == 0 {
		env.Version = EnvelopeVersion
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("encode envelope: %w", err)
	}
	return env, raw, nil
}

// OpenEnvelope decodes a stored envelope and checks it carries data.
func OpenEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, ErrEmptyPayload
	}
	return env, nil
}
