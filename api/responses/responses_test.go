package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"hello": "world"})

	require.Equal(t, http.StatusOK, w.Code)
	var body SuccessEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "world", body.Data.(map[string]any)["hello"])
}

func TestWriteErrorMapsTypedError(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "bad input").
		WithDetails(map[string]string{"field": "limit"})
	WriteError(context.Background(), nil, w, err)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, string(pkgerrors.CodeValidation), body.Error.Code)
	require.Equal(t, "bad input", body.Error.Message)
	require.NotNil(t, body.Error.Details)
	require.False(t, body.Error.Retryable)
}

func TestWriteErrorUsesStableDomainCodes(t *testing.T) {
	cases := map[pkgerrors.Code]int{
		pkgerrors.CodeSignatureInvalid:    http.StatusBadRequest,
		pkgerrors.CodeAssetFrozen:         http.StatusConflict,
		pkgerrors.CodeEntitlementRequired: http.StatusPaymentRequired,
		pkgerrors.CodeJobNotClaimed:       http.StatusForbidden,
	}
	for code, status := range cases {
		w := httptest.NewRecorder()
		WriteError(context.Background(), nil, w, pkgerrors.New(code, "internal detail"))
		require.Equal(t, status, w.Code, code)

		var body ErrorEnvelope
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		require.Equal(t, string(code), body.Error.Code)
	}
}

func TestWriteErrorHidesSignatureDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "timestamp outside tolerance"))

	var body ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "signature verification failed", body.Error.Message)
}

func TestWriteErrorDefaultsToInternalForUntypedErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("boom"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, string(pkgerrors.CodeInternal), body.Error.Code)
	require.Equal(t, "internal server error", body.Error.Message)
	require.True(t, body.Error.Retryable)
}

func TestWriteFile(t *testing.T) {
	w := httptest.NewRecorder()
	WriteFile(w, "application/pdf", []byte("%PDF-1.7"))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	require.Equal(t, "8", w.Header().Get("Content-Length"))
	require.Equal(t, "%PDF-1.7", w.Body.String())
}
