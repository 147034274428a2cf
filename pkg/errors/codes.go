package errors

import "net/http"

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeSignatureInvalid    Code = "SIGNATURE_INVALID"
	CodeAssetFrozen         Code = "ASSET_FROZEN"
	CodeAssetNotActivated   Code = "ASSET_NOT_ACTIVATED"
	CodeEntitlementRequired Code = "ENTITLEMENT_REQUIRED"
	CodeJobNotClaimed       Code = "JOB_NOT_CLAIMED_BY_WORKER"
)

// Metadata is how a code is rendered to API clients. Unless ShowMessage is
// set, clients see PublicMessage instead of the error's own message.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	ShowMessage    bool
	DetailsAllowed bool
}

type exposure uint8

const (
	showMessage exposure = 1 << iota
	showDetails
)

// describe builds metadata; server-side failures are the retryable ones.
func describe(status int, public string, exposes exposure) Metadata {
	return Metadata{
		HTTPStatus:     status,
		Retryable:      status >= http.StatusInternalServerError,
		PublicMessage:  public,
		ShowMessage:    exposes&showMessage != 0,
		DetailsAllowed: exposes&showDetails != 0,
	}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    describe(http.StatusBadRequest, "validation failed", showMessage|showDetails),
	CodeUnauthorized:  describe(http.StatusUnauthorized, "authentication required", showMessage),
	CodeForbidden:     describe(http.StatusForbidden, "access denied", showMessage),
	CodeNotFound:      describe(http.StatusNotFound, "resource not found", showMessage),
	CodeConflict:      describe(http.StatusConflict, "conflict detected", showMessage),
	CodeStateConflict: describe(http.StatusUnprocessableEntity, "state transition disallowed", showMessage|showDetails),
	CodeIdempotency:   describe(http.StatusConflict, "idempotency key reused", showMessage|showDetails),
	CodeRateLimit:     describe(http.StatusTooManyRequests, "rate limit exceeded", showMessage),
	CodeInternal:      describe(http.StatusInternalServerError, "internal server error", 0),
	CodeDependency:    describe(http.StatusServiceUnavailable, "dependency unavailable", showDetails),

	// Signature and lease failures keep their cause server-side.
	CodeSignatureInvalid:    describe(http.StatusBadRequest, "signature verification failed", 0),
	CodeAssetFrozen:         describe(http.StatusConflict, "asset is frozen", showMessage|showDetails),
	CodeAssetNotActivated:   describe(http.StatusConflict, "asset is not activated", showMessage|showDetails),
	CodeEntitlementRequired: describe(http.StatusPaymentRequired, "an active subscription or paid order is required", showMessage|showDetails),
	CodeJobNotClaimed:       describe(http.StatusForbidden, "job is not claimed by this worker", 0),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}
