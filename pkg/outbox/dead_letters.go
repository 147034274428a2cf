package outbox

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type DeadLetterParams struct {
	DB     txRunner
	Events *Repository
	DLQ    *DLQRepository
	Logger *logger.Logger
}

// DeadLetters lets operators inspect dead-lettered events and hand them back
// to the publisher once the cause is fixed.
type DeadLetters struct {
	db     txRunner
	events *Repository
	dlq    *DLQRepository
	logg   *logger.Logger
}

func NewDeadLetters(params DeadLetterParams) (*DeadLetters, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("db is required")
	case params.Events == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	}
	return &DeadLetters{db: params.DB, events: params.Events, dlq: params.DLQ, logg: params.Logger}, nil
}

func (d *DeadLetters) List(ctx context.Context, page pagination.Params) (*pagination.Page[models.OutboxDLQ], error) {
	after, err := pagination.Decode(page.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := d.dlq.Page(ctx, after, pagination.Fetch(page.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters")
	}
	out := pagination.Build(rows, page.Limit, func(e models.OutboxDLQ) pagination.Cursor {
		return pagination.Cursor{At: e.FailedAt, ID: e.ID}
	})
	return &out, nil
}

// Replay resets the outbox row behind eventID and clears its dead-letter
// entries in one transaction.
func (d *DeadLetters) Replay(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry *models.OutboxDLQ
	err := d.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = d.dlq.FindByEventIDTx(tx, eventID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dead letter")
		}
		if entry == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found")
		}
		if err := d.events.RequeueTx(tx, *entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue outbox event")
		}
		if err := d.dlq.DeleteForEventTx(tx, eventID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear dead letter")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if d.logg != nil {
		d.logg.Info(d.logg.WithFields(ctx, map[string]any{
			"outbox_id":    eventID.String(),
			"event_type":   entry.EventType,
			"error_reason": entry.ErrorReason,
		}), "dead letter requeued")
	}
	return entry, nil
}
