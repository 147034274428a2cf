package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/api/responses"
	"github.com/angelmondragon/fulfillment-engine/api/validators"
	"github.com/angelmondragon/fulfillment-engine/internal/assets"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

type assetService interface {
	Resolve(ctx context.Context, code string) (*assets.Resolution, error)
	Assign(ctx context.Context, actorID, assetID uuid.UUID, targetID *uuid.UUID) (*models.ReusableAsset, error)
	History(ctx context.Context, actorID, assetID uuid.UUID, page pagination.Params) (*pagination.Page[models.AssetReassignmentHistory], error)
	ListOwned(ctx context.Context, ownerID uuid.UUID, page pagination.Params) (*pagination.Page[models.ReusableAsset], error)
}

type assetResponse struct {
	ID             uuid.UUID  `json:"id"`
	Code           string     `json:"code"`
	ActiveTargetID *uuid.UUID `json:"active_target_id"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty"`
	IsFrozen       bool       `json:"is_frozen"`
	FrozenAt       *time.Time `json:"frozen_at,omitempty"`
}

type historyEntry struct {
	OldTargetID *uuid.UUID `json:"old_target_id"`
	NewTargetID *uuid.UUID `json:"new_target_id"`
	ChangedBy   uuid.UUID  `json:"changed_by"`
	ChangedAt   time.Time  `json:"changed_at"`
}

type pageResponse[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// assignRequest carries the new target; a null target unassigns the asset.
type assignRequest struct {
	TargetID *uuid.UUID `json:"target_id"`
}

// ResolveCode is the public scan endpoint. Assigned codes redirect to the
// internal property page; everything else gets the unassigned answer.
func ResolveCode(svc assetService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimSpace(chi.URLParam(r, "code"))
		resolution, err := svc.Resolve(r.Context(), code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if resolution.Kind == assets.ResolutionTarget {
			http.Redirect(w, r, resolution.Path, http.StatusFound)
			return
		}
		responses.WriteSuccess(w, resolution)
	}
}

func AssetHistory(svc assetService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		assetID, err := uuidParam(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.History(r.Context(), userID, assetID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := pageResponse[historyEntry]{Items: make([]historyEntry, 0, len(page.Items)), NextCursor: page.NextCursor}
		for _, row := range page.Items {
			out.Items = append(out.Items, historyEntry{
				OldTargetID: row.OldTargetID,
				NewTargetID: row.NewTargetID,
				ChangedBy:   row.ChangedBy,
				ChangedAt:   row.ChangedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

// ListAssets returns the caller's assets, newest first.
func ListAssets(svc assetService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListOwned(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := pageResponse[assetResponse]{Items: make([]assetResponse, 0, len(page.Items)), NextCursor: page.NextCursor}
		for i := range page.Items {
			out.Items = append(out.Items, newAssetResponse(&page.Items[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func AssetAssign(svc assetService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		assetID, err := uuidParam(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload assignRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		asset, err := svc.Assign(r.Context(), userID, assetID, payload.TargetID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if asset == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assign returned no asset"))
			return
		}
		responses.WriteSuccess(w, newAssetResponse(asset))
	}
}

func newAssetResponse(a *models.ReusableAsset) assetResponse {
	return assetResponse{
		ID:             a.ID,
		Code:           a.Code,
		ActiveTargetID: a.ActiveTargetID,
		ActivatedAt:    a.ActivatedAt,
		IsFrozen:       a.IsFrozen,
		FrozenAt:       a.FrozenAt,
	}
}
