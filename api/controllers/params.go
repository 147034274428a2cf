package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/api/middleware"
	"github.com/angelmondragon/fulfillment-engine/api/validators"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

const maxCursorLen = 256

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	return validators.ParsePathUUID(r, name)
}

func userIDFromContext(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return id, nil
}

// pageParams reads ?limit and ?cursor. Cursor validity is checked by the service.
func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	cursor, err := validators.ParseQueryString(r, "cursor", maxCursorLen)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{Limit: limit, Cursor: cursor}, nil
}
