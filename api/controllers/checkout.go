package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/api/responses"
	"github.com/angelmondragon/fulfillment-engine/api/validators"
	checkoutsvc "github.com/angelmondragon/fulfillment-engine/internal/checkout"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

type checkoutService interface {
	CreateOrReuse(ctx context.Context, userID uuid.UUID, req checkoutsvc.Request) (*checkoutsvc.Result, error)
}

type checkoutRequest struct {
	Purpose           string         `json:"purpose" validate:"required"`
	AttemptToken      string         `json:"attempt_token" validate:"required,max=128,token"`
	PropertyID        *uuid.UUID     `json:"property_id,omitempty"`
	Quantity          int64          `json:"quantity" validate:"gte=0,lte=100"`
	DesignArtifactKey *string        `json:"design_artifact_key,omitempty" validate:"omitempty,max=512"`
	CustomerEmail     string         `json:"customer_email,omitempty" validate:"omitempty,email"`
	Params            map[string]any `json:"params,omitempty"`
}

type checkoutResponse struct {
	AttemptID  uuid.UUID  `json:"attempt_id"`
	OrderID    *uuid.UUID `json:"order_id,omitempty"`
	SessionID  string     `json:"session_id"`
	SessionURL string     `json:"session_url"`
	Reused     bool       `json:"reused"`
}

// Checkout starts (or resumes) a provider checkout for the caller. Retries
// carrying the same attempt token and parameters return the same session.
func Checkout(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateOrReuse(r.Context(), userID, checkoutsvc.Request{
			Purpose:           enums.CheckoutPurpose(payload.Purpose),
			AttemptToken:      payload.AttemptToken,
			PropertyID:        payload.PropertyID,
			Quantity:          payload.Quantity,
			DesignArtifactKey: payload.DesignArtifactKey,
			CustomerEmail:     payload.CustomerEmail,
			Params:            payload.Params,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Reused {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, checkoutResponse{
			AttemptID:  result.AttemptID,
			OrderID:    result.OrderID,
			SessionID:  result.SessionID,
			SessionURL: result.SessionURL,
			Reused:     result.Reused,
		})
	}
}
