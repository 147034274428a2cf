package assets

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

// Repository persists reusable assets and their reassignment history.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, asset *models.ReusableAsset) error {
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(asset).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ReusableAsset, error) {
	var asset models.ReusableAsset
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&asset).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *Repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.ReusableAsset, error) {
	var asset models.ReusableAsset
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&asset).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *Repository) FindByCode(ctx context.Context, code string) (*models.ReusableAsset, error) {
	var asset models.ReusableAsset
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&asset).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *Repository) FindByActivationOrder(ctx context.Context, orderID uuid.UUID) (*models.ReusableAsset, error) {
	var asset models.ReusableAsset
	if err := r.db.WithContext(ctx).Where("activation_order_id = ?", orderID).First(&asset).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

// ListFreezable returns the owner's activated assets that are not yet frozen.
func (r *Repository) ListFreezable(ctx context.Context, ownerID uuid.UUID) ([]models.ReusableAsset, error) {
	var rows []models.ReusableAsset
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND activated_at IS NOT NULL AND is_frozen = ?", ownerID, false).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// ListByOwner pages the owner's assets newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID, after *pagination.Cursor, limit int) ([]models.ReusableAsset, error) {
	var rows []models.ReusableAsset
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Scopes(pagination.Keyset("created_at", pagination.Newest, after, limit)).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) Freeze(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.ReusableAsset{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"is_frozen": true, "frozen_at": at, "updated_at": at}).Error
}

// UnfreezeOwner clears the frozen flag on every asset the owner holds and
// returns how many rows changed.
func (r *Repository) UnfreezeOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.ReusableAsset{}).
		Where("owner_id = ? AND is_frozen = ?", ownerID, true).
		Updates(map[string]any{"is_frozen": false, "frozen_at": nil, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

func (r *Repository) SetTarget(ctx context.Context, id uuid.UUID, targetID *uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.ReusableAsset{}).
		Where("id = ?", id).
		Updates(map[string]any{"active_target_id": targetID, "updated_at": time.Now().UTC()}).Error
}

func (r *Repository) AppendHistory(ctx context.Context, entry *models.AssetReassignmentHistory) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// History pages the audit trail oldest first.
func (r *Repository) History(ctx context.Context, assetID uuid.UUID, after *pagination.Cursor, limit int) ([]models.AssetReassignmentHistory, error) {
	var rows []models.AssetReassignmentHistory
	err := r.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Scopes(pagination.Keyset("changed_at", pagination.Oldest, after, limit)).
		Find(&rows).Error
	return rows, err
}
