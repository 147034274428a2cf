package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	stripewebhook "github.com/angelmondragon/fulfillment-engine/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

type fakeWebhookService struct {
	outcome stripewebhook.Outcome
	err     error
	calls   int
	payload []byte
	sig     string
}

func (f *fakeWebhookService) Handle(_ context.Context, payload []byte, sig string) (stripewebhook.Outcome, error) {
	f.calls++
	f.payload = payload
	f.sig = sig
	return f.outcome, f.err
}

func post(t *testing.T, svc StripeWebhookService, body []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(body))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	rec := httptest.NewRecorder()
	StripeWebhook(svc, nil).ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestStripeWebhookAcknowledgesProcessedAndDuplicate(t *testing.T) {
	for _, outcome := range []stripewebhook.Outcome{stripewebhook.OutcomeProcessed, stripewebhook.OutcomeDuplicate} {
		svc := &fakeWebhookService{outcome: outcome}
		rec := post(t, svc, []byte(`{"id":"evt_1"}`), "t=1,v1=abc")

		require.Equal(t, http.StatusOK, rec.Code, outcome)
		require.Contains(t, rec.Body.String(), string(outcome))
		require.Equal(t, `{"id":"evt_1"}`, string(svc.payload))
		require.Equal(t, "t=1,v1=abc", svc.sig)
	}
}

func TestStripeWebhookRejectsMissingSignature(t *testing.T) {
	svc := &fakeWebhookService{}
	rec := post(t, svc, []byte(`{}`), "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(pkgerrors.CodeSignatureInvalid), errorCode(t, rec))
	require.Zero(t, svc.calls)
}

func TestStripeWebhookInvalidSignatureIs400(t *testing.T) {
	svc := &fakeWebhookService{err: pkgerrors.New(pkgerrors.CodeSignatureInvalid, "bad signature")}
	rec := post(t, svc, []byte(`{}`), "t=1,v1=bad")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(pkgerrors.CodeSignatureInvalid), errorCode(t, rec))
}

func TestStripeWebhookHandlerFailureAsksForRedelivery(t *testing.T) {
	svc := &fakeWebhookService{
		outcome: stripewebhook.OutcomeFailed,
		err:     pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "apply payment event"),
	}
	rec := post(t, svc, []byte(`{}`), "t=1,v1=abc")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStripeWebhookInFlightIsAcknowledged(t *testing.T) {
	svc := &fakeWebhookService{outcome: stripewebhook.OutcomeInFlight}
	rec := post(t, svc, []byte(`{}`), "t=1,v1=abc")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"outcome":"in_flight"`)
}

func TestStripeWebhookRejectsOversizedPayload(t *testing.T) {
	svc := &fakeWebhookService{}
	rec := post(t, svc, bytes.Repeat([]byte("a"), maxPayloadBytes+1), "t=1,v1=abc")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, svc.calls)
}
