// Package properties reads the listings that reusable assets resolve to.
package properties

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
)

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

func (r *Repository) Create(ctx context.Context, ownerID uuid.UUID, address string) (*models.Property, error) {
	property := &models.Property{ID: uuid.New(), OwnerID: ownerID, Address: address}
	if err := r.db.WithContext(ctx).Create(property).Error; err != nil {
		return nil, err
	}
	return property, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Property, error) {
	var property models.Property
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&property).Error; err != nil {
		return nil, err
	}
	return &property, nil
}

// FindOwned loads the property only when ownerID owns it.
func (r *Repository) FindOwned(ctx context.Context, id, ownerID uuid.UUID) (*models.Property, error) {
	var property models.Property
	if err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&property).Error; err != nil {
		return nil, err
	}
	return &property, nil
}
