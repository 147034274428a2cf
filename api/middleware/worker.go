package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/angelmondragon/fulfillment-engine/api/responses"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

const (
	WorkerIDHeader   = "X-Print-Worker-Id"
	maxWorkerIDBytes = 128
)

// WorkerAuth admits the print worker fleet. Every worker presents the shared
// fleet bearer token plus its own identity header; the identity becomes the
// claim owner for the print job lease.
func WorkerAuth(fleetToken string, logg *logger.Logger) func(http.Handler) http.Handler {
	expected := []byte(fleetToken)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "worker access disabled"))
				return
			}
			token, _ := bearerToken(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid worker credentials"))
				return
			}

			workerID := strings.TrimSpace(r.Header.Get(WorkerIDHeader))
			if workerID == "" || len(workerID) > maxWorkerIDBytes {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, WorkerIDHeader+" header required"))
				return
			}

			ctx := WithWorkerID(r.Context(), workerID)
			if logg != nil {
				ctx = logg.WithWorkerID(ctx, workerID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
