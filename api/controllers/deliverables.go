package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/api/responses"
	"github.com/angelmondragon/fulfillment-engine/api/validators"
	"github.com/angelmondragon/fulfillment-engine/internal/deliverables"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

type deliverableService interface {
	Request(ctx context.Context, userID, propertyID uuid.UUID, kind enums.DeliverableKind) (*models.DeliverableJob, error)
	Status(ctx context.Context, userID, jobID uuid.UUID) (*deliverables.StatusView, error)
}

type deliverableRequest struct {
	PropertyID uuid.UUID `json:"property_id" validate:"required"`
	Kind       string    `json:"kind" validate:"required"`
}

// DeliverableRequest queues a generation job for an entitled property. An
// identical pending job is returned instead of a second one.
func DeliverableRequest(svc deliverableService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload deliverableRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		kind := enums.DeliverableKind(payload.Kind)
		if !kind.IsValid() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unsupported deliverable kind"))
			return
		}
		job, err := svc.Request(r.Context(), userID, payload.PropertyID, kind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, deliverables.StatusView{
			JobID:        job.ID,
			Kind:         job.Kind,
			Status:       job.Status,
			ResultRef:    job.ResultRef,
			AttemptCount: job.AttemptCount,
		})
	}
}

func DeliverableStatus(svc deliverableService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		jobID, err := uuidParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Status(r.Context(), userID, jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
