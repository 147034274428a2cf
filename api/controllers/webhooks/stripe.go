package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/fulfillment-engine/api/responses"
	stripewebhook "github.com/angelmondragon/fulfillment-engine/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

// maxPayloadBytes matches the provider's documented event size ceiling.
const maxPayloadBytes = 512 * 1024

type StripeWebhookService interface {
	Handle(ctx context.Context, payload []byte, signature string) (stripewebhook.Outcome, error)
}

type webhookAck struct {
	Outcome stripewebhook.Outcome `json:"outcome"`
}

// StripeWebhook acknowledges a delivery only once its effects are committed
// or it is recognised as a duplicate. Every other answer makes the provider
// redeliver: a bad signature, a handler failure, or an event another
// delivery is still processing.
func StripeWebhook(svc StripeWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get("Stripe-Signature")
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "stripe signature missing"))
			return
		}

		outcome, err := svc.Handle(ctx, payload, signature)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, webhookAck{Outcome: outcome})
	}
}
