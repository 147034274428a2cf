// Package assets implements the smart sign lifecycle: activation by a paid
// order, owner-driven assignment, subscription-driven freezing and public
// code resolution.
package assets

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/entitlements"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox/payloads"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

const maxCodeAttempts = 5

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type propertyLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Property, error)
	FindOwned(ctx context.Context, id, ownerID uuid.UUID) (*models.Property, error)
}

// ResolutionKind says where a scanned code leads.
type ResolutionKind string

const (
	ResolutionTarget     ResolutionKind = "target"
	ResolutionUnassigned ResolutionKind = "unassigned"
)

// Resolution is the public answer for a scanned code. Path is always an
// internal route built from a known property id.
type Resolution struct {
	Kind     ResolutionKind `json:"kind"`
	Path     string         `json:"path,omitempty"`
	TargetID *uuid.UUID     `json:"target_id,omitempty"`
}

type ServiceParams struct {
	DB           txRunner
	Repo         *Repository
	Properties   propertyLookup
	Entitlements *entitlements.Checker
	Outbox       outboxEmitter
	Logger       *logger.Logger
	CodeFunc     func() (string, error)
}

type Service struct {
	tx         txRunner
	repo       *Repository
	properties propertyLookup
	checker    *entitlements.Checker
	outbox     outboxEmitter
	logg       *logger.Logger
	newCode    func() (string, error)
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "asset repository required")
	}
	if params.Properties == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "property lookup required")
	}
	if params.Entitlements == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlement checker required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	codeFunc := params.CodeFunc
	if codeFunc == nil {
		codeFunc = GenerateCode
	}
	return &Service{
		tx:         params.DB,
		repo:       params.Repo,
		properties: params.Properties,
		checker:    params.Entitlements,
		outbox:     params.Outbox,
		logg:       params.Logger,
		newCode:    codeFunc,
	}, nil
}

// ActivateForOrder creates the activated asset bought by order, or returns the
// one already created for it. It must run inside the payment event handler's
// transaction.
func (s *Service) ActivateForOrder(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.ReusableAsset, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if order == nil || order.OrderType != enums.OrderTypeSmartSign {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only smart sign orders activate assets")
	}
	repo := s.repo.WithTx(tx)
	existing, err := repo.FindByActivationOrder(ctx, order.ID)
	if err == nil {
		return existing, nil
	}
	if !db.IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	orderID := order.ID
	var asset *models.ReusableAsset
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		candidate := &models.ReusableAsset{
			ID:                uuid.New(),
			Code:              code,
			OwnerID:           order.UserID,
			ActiveTargetID:    order.PropertyID,
			ActivationOrderID: &orderID,
			ActivatedAt:       &now,
		}
		// The savepoint keeps a code collision from aborting the outer
		// transaction on postgres.
		err = tx.Transaction(func(sp *gorm.DB) error {
			return s.repo.WithTx(sp).Create(ctx, candidate)
		})
		if err == nil {
			asset = candidate
			break
		}
		if !db.IsUniqueViolation(err, "") {
			return nil, err
		}
		if existing, findErr := repo.FindByActivationOrder(ctx, order.ID); findErr == nil {
			return existing, nil
		}
	}
	if asset == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique asset code")
	}

	if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAssetActivated,
		AggregateType: enums.AggregateReusableAsset,
		AggregateID:   asset.ID,
		Data: payloads.AssetActivatedEvent{
			AssetID:        asset.ID,
			OwnerID:        asset.OwnerID,
			OrderID:        order.ID,
			Code:           asset.Code,
			ActiveTargetID: asset.ActiveTargetID,
		},
	}); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"asset_id": asset.ID.String(),
		"order_id": order.ID.String(),
	}), "reusable asset activated")
	return asset, nil
}

// Assign points the asset at targetID, or unassigns it when targetID is nil.
// Concurrent assignments are last-writer-wins; each one leaves a history row.
func (s *Service) Assign(ctx context.Context, actorID, assetID uuid.UUID, targetID *uuid.UUID) (*models.ReusableAsset, error) {
	asset, err := s.repo.FindByID(ctx, assetID)
	if err != nil {
		return nil, notFoundOr(err, "asset not found", "load asset")
	}
	if err := checkAssignable(asset, actorID); err != nil {
		return nil, err
	}
	if sameTarget(asset.ActiveTargetID, targetID) {
		return asset, nil
	}

	// First placement is covered by the activating purchase; moving or
	// clearing a placed sign needs an active subscription.
	var backing []uuid.UUID
	if asset.ActiveTargetID == nil && asset.ActivationOrderID != nil {
		backing = append(backing, *asset.ActivationOrderID)
	}
	paid, err := s.checker.OwnerPaid(ctx, asset.OwnerID, backing...)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check entitlement")
	}
	if !paid {
		return nil, pkgerrors.New(pkgerrors.CodeEntitlementRequired, "an active subscription is required to reassign this asset")
	}
	if targetID != nil {
		if _, err := s.properties.FindOwned(ctx, *targetID, actorID); err != nil {
			return nil, notFoundOr(err, "target not found", "load target")
		}
	}

	var updated *models.ReusableAsset
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.FindByIDForUpdate(ctx, assetID)
		if err != nil {
			return err
		}
		if err := checkAssignable(locked, actorID); err != nil {
			return err
		}
		if sameTarget(locked.ActiveTargetID, targetID) {
			updated = locked
			return nil
		}
		if err := repo.AppendHistory(ctx, &models.AssetReassignmentHistory{
			AssetID:     locked.ID,
			OldTargetID: locked.ActiveTargetID,
			NewTargetID: targetID,
			ChangedBy:   actorID,
		}); err != nil {
			return err
		}
		if err := repo.SetTarget(ctx, locked.ID, targetID); err != nil {
			return err
		}
		locked.ActiveTargetID = targetID
		updated = locked
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign asset")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"asset_id":  assetID.String(),
		"target_id": uuidString(targetID),
	}), "reusable asset assigned")
	return updated, nil
}

// FreezeForOwner freezes each of the owner's assets that neither a paid
// activation order nor a paid target still backs. It runs inside the subscription event's transaction, after the
// new subscription status has been written.
func (s *Service) FreezeForOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, status enums.SubscriptionStatus) ([]uuid.UUID, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	checker := s.checker.WithTx(tx)
	candidates, err := repo.ListFreezable(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	frozen := []uuid.UUID{}
	for _, asset := range candidates {
		paid, err := freezeExempt(ctx, checker, asset)
		if err != nil {
			return nil, err
		}
		if !paid {
			frozen = append(frozen, asset.ID)
		}
	}
	if len(frozen) == 0 {
		return frozen, nil
	}
	if err := repo.Freeze(ctx, frozen, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAssetFrozen,
		AggregateType: enums.AggregateUser,
		AggregateID:   ownerID,
		Data: payloads.AssetFrozenEvent{
			OwnerID:            ownerID,
			AssetIDs:           frozen,
			SubscriptionStatus: status,
		},
	}); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"owner_id":     ownerID.String(),
		"frozen_count": len(frozen),
	}), "reusable assets frozen")
	return frozen, nil
}

// freezeExempt reports whether a paid order keeps the asset usable without a
// subscription: its own activation order first, then its current target.
func freezeExempt(ctx context.Context, checker *entitlements.Checker, asset models.ReusableAsset) (bool, error) {
	if asset.ActivationOrderID != nil {
		paid, err := checker.OwnerPaid(ctx, asset.OwnerID, *asset.ActivationOrderID)
		if err != nil || paid {
			return paid, err
		}
	}
	if asset.ActiveTargetID != nil {
		return checker.ResourcePaid(ctx, *asset.ActiveTargetID)
	}
	return false, nil
}

// UnfreezeForOwner clears the frozen flag on all of the owner's assets.
func (s *Service) UnfreezeForOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) (int64, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	return s.repo.WithTx(tx).UnfreezeOwner(ctx, ownerID)
}

// Resolve maps a public code to an internal destination.
func (s *Service) Resolve(ctx context.Context, code string) (*Resolution, error) {
	if len(code) == 0 || len(code) > 64 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "code not found")
	}
	asset, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, notFoundOr(err, "code not found", "load asset")
	}
	if !asset.IsActivated() {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "code not found")
	}
	unassigned := &Resolution{Kind: ResolutionUnassigned}
	if asset.ActiveTargetID == nil {
		return unassigned, nil
	}
	property, err := s.properties.FindByID(ctx, *asset.ActiveTargetID)
	if err != nil {
		if db.IsNotFound(err) {
			return unassigned, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load target")
	}
	id := property.ID
	return &Resolution{Kind: ResolutionTarget, Path: "/p/" + id.String(), TargetID: &id}, nil
}

// History pages the owner-only reassignment audit trail, oldest first.
func (s *Service) History(ctx context.Context, actorID, assetID uuid.UUID, page pagination.Params) (*pagination.Page[models.AssetReassignmentHistory], error) {
	asset, err := s.repo.FindByID(ctx, assetID)
	if err != nil {
		return nil, notFoundOr(err, "asset not found", "load asset")
	}
	if asset.OwnerID != actorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "asset belongs to another user")
	}
	after, err := decodeCursor(page.Cursor)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.History(ctx, assetID, after, pagination.Fetch(page.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load history")
	}
	out := pagination.Build(rows, page.Limit, func(h models.AssetReassignmentHistory) pagination.Cursor {
		return pagination.Cursor{At: h.ChangedAt, ID: h.ID}
	})
	return &out, nil
}

// ListOwned pages the caller's assets, newest first.
func (s *Service) ListOwned(ctx context.Context, ownerID uuid.UUID, page pagination.Params) (*pagination.Page[models.ReusableAsset], error) {
	after, err := decodeCursor(page.Cursor)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByOwner(ctx, ownerID, after, pagination.Fetch(page.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list assets")
	}
	out := pagination.Build(rows, page.Limit, func(a models.ReusableAsset) pagination.Cursor {
		return pagination.Cursor{At: a.CreatedAt, ID: a.ID}
	})
	return &out, nil
}

func decodeCursor(raw string) (*pagination.Cursor, error) {
	cursor, err := pagination.Decode(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	return cursor, nil
}

func checkAssignable(asset *models.ReusableAsset, actorID uuid.UUID) error {
	if asset.OwnerID != actorID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "asset belongs to another user")
	}
	if asset.IsFrozen {
		return pkgerrors.New(pkgerrors.CodeAssetFrozen, "asset is frozen")
	}
	if !asset.IsActivated() {
		return pkgerrors.New(pkgerrors.CodeAssetNotActivated, "asset has not been activated")
	}
	return nil
}

func sameTarget(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func notFoundOr(err error, notFound, dependency string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, dependency)
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
