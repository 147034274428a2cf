package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/api/responses"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

type deadLetterService interface {
	List(ctx context.Context, page pagination.Params) (*pagination.Page[models.OutboxDLQ], error)
	Replay(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
}

type deadLetterResponse struct {
	EventID       uuid.UUID `json:"event_id"`
	EventType     string    `json:"event_type"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   uuid.UUID `json:"aggregate_id"`
	ErrorReason   string    `json:"error_reason"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	AttemptCount  int       `json:"attempt_count"`
	FailedAt      time.Time `json:"failed_at"`
}

func newDeadLetterResponse(e *models.OutboxDLQ) deadLetterResponse {
	return deadLetterResponse{
		EventID:       e.EventID,
		EventType:     string(e.EventType),
		AggregateType: string(e.AggregateType),
		AggregateID:   e.AggregateID,
		ErrorReason:   string(e.ErrorReason),
		ErrorMessage:  e.ErrorMessage,
		AttemptCount:  e.AttemptCount,
		FailedAt:      e.FailedAt,
	}
}

func AdminListDeadLetters(svc deadLetterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := pageResponse[deadLetterResponse]{Items: make([]deadLetterResponse, 0, len(page.Items)), NextCursor: page.NextCursor}
		for i := range page.Items {
			out.Items = append(out.Items, newDeadLetterResponse(&page.Items[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// AdminReplayDeadLetter hands a dead-lettered event back to the publisher.
func AdminReplayDeadLetter(svc deadLetterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, err := uuidParam(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := svc.Replay(r.Context(), eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newDeadLetterResponse(entry))
	}
}
