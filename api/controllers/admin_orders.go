package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/api/responses"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

type printReconciler interface {
	ReconcilePrintFailed(ctx context.Context, orderID uuid.UUID) (*models.PrintJob, error)
}

type reconcileResponse struct {
	OrderID uuid.UUID `json:"order_id"`
	JobID   uuid.UUID `json:"job_id"`
	Status  string    `json:"status"`
}

// AdminReconcilePrint re-queues printing for an order stuck in print_failed.
func AdminReconcilePrint(svc printReconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := uuidParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		job, err := svc.ReconcilePrintFailed(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithJobID(ctx, "print", job.ID.String()), "print failure reconciled")
		}
		responses.WriteSuccess(w, reconcileResponse{
			OrderID: orderID,
			JobID:   job.ID,
			Status:  string(job.Status),
		})
	}
}
