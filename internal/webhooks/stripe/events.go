package stripewebhook

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

const maxFailureReasonLen = 500

var errLeaseLost = errors.New("payment event was taken over by another delivery")

// Outcome describes what Begin decided for a delivery.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeInFlight  Outcome = "in_flight"
	OutcomeFailed    Outcome = "failed"
)

// Claim is the result of Begin. Proceed is true when this delivery owns the
// event and must run its handler.
type Claim struct {
	Proceed bool
	Outcome Outcome
	Attempt int
}

// EventStore persists provider events keyed by the provider event id.
type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) WithTx(tx *gorm.DB) *EventStore {
	if tx == nil {
		return s
	}
	return &EventStore{db: tx}
}

// Begin records a delivery. A new id is claimed immediately. A known id is
// absorbed when already processed or still inside its processing lease;
// failed rows and rows whose handler went silent past the lease are taken
// over with a compare-and-set on attempt_count.
func (s *EventStore) Begin(ctx context.Context, eventID, eventType string, payload []byte, now time.Time, lease time.Duration) (Claim, error) {
	row := models.PaymentEvent{
		EventID:      eventID,
		EventType:    eventType,
		Status:       enums.PaymentEventReceived,
		Payload:      datatypes.JSON(payload),
		AttemptCount: 1,
		ReceivedAt:   now,
		UpdatedAt:    now,
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return Claim{Proceed: true, Attempt: 1}, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return Claim{}, err
	}

	existing, err := s.Find(ctx, eventID)
	if err != nil {
		return Claim{}, err
	}
	switch existing.Status {
	case enums.PaymentEventProcessed:
		return Claim{Outcome: OutcomeDuplicate, Attempt: existing.AttemptCount}, nil
	case enums.PaymentEventReceived:
		if now.Sub(existing.UpdatedAt) < lease {
			return Claim{Outcome: OutcomeInFlight, Attempt: existing.AttemptCount}, nil
		}
	}

	next := existing.AttemptCount + 1
	res := s.db.WithContext(ctx).Model(&models.PaymentEvent{}).
		Where("event_id = ? AND status = ? AND attempt_count = ?", eventID, existing.Status, existing.AttemptCount).
		Updates(map[string]any{
			"status":         enums.PaymentEventReceived,
			"attempt_count":  next,
			"failure_reason": nil,
			"updated_at":     now,
		})
	if res.Error != nil {
		return Claim{}, res.Error
	}
	if res.RowsAffected == 0 {
		return Claim{Outcome: OutcomeInFlight, Attempt: existing.AttemptCount}, nil
	}
	return Claim{Proceed: true, Attempt: next}, nil
}

func (s *EventStore) Find(ctx context.Context, eventID string) (*models.PaymentEvent, error) {
	var row models.PaymentEvent
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// MarkProcessed runs inside the handler transaction so the side effects and
// the processed flag commit together.
func (s *EventStore) MarkProcessed(ctx context.Context, eventID string, attempt int, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.PaymentEvent{}).
		Where("event_id = ? AND attempt_count = ?", eventID, attempt).
		Updates(map[string]any{
			"status":         enums.PaymentEventProcessed,
			"processed_at":   at,
			"failure_reason": nil,
			"updated_at":     at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errLeaseLost
	}
	return nil
}

func (s *EventStore) MarkFailed(ctx context.Context, eventID string, attempt int, reason string, at time.Time) error {
	reason = pkgerrors.Truncate(reason, maxFailureReasonLen)
	return s.db.WithContext(ctx).Model(&models.PaymentEvent{}).
		Where("event_id = ? AND attempt_count = ? AND status = ?", eventID, attempt, enums.PaymentEventReceived).
		Updates(map[string]any{
			"status":         enums.PaymentEventFailed,
			"failure_reason": reason,
			"updated_at":     at,
		}).Error
}

// CountStuck counts failed events plus received events older than the lease.
func (s *EventStore) CountStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.PaymentEvent{}).
		Where("status = ? OR (status = ? AND updated_at < ?)",
			enums.PaymentEventFailed, enums.PaymentEventReceived, cutoff).
		Count(&count).Error
	return count, err
}
