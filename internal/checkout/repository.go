package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Repository persists checkout attempts.
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

func (r *Repository) Insert(ctx context.Context, attempt *models.CheckoutAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.Status == "" {
		attempt.Status = enums.CheckoutAttemptPending
	}
	return r.db.WithContext(ctx).Create(attempt).Error
}

// FindByTokenAndHash loads the attempt a retry with identical parameters maps to.
func (r *Repository) FindByTokenAndHash(ctx context.Context, userID uuid.UUID, token, paramsHash string) (*models.CheckoutAttempt, error) {
	var attempt models.CheckoutAttempt
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND attempt_token = ? AND params_hash = ?", userID, token, paramsHash).
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *Repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.CheckoutAttempt, error) {
	var attempt models.CheckoutAttempt
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *Repository) SetSession(ctx context.Context, id uuid.UUID, sessionID, url string) error {
	return r.db.WithContext(ctx).Model(&models.CheckoutAttempt{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"provider_session_id": sessionID,
			"session_url":         url,
			"updated_at":          time.Now().UTC(),
		}).Error
}

// AttemptRef identifies a checkout attempt when the session id was never
// stored on it. OrderID is nil for subscription checkouts.
type AttemptRef struct {
	UserID  uuid.UUID
	OrderID *uuid.UUID
	Token   string
}

// MarkCompletedBySession flips the attempt owning sessionID to completed. When
// no row carries the session id, the pending attempt matching ref's user,
// order and token is completed instead.
func (r *Repository) MarkCompletedBySession(ctx context.Context, sessionID string, ref AttemptRef) (int64, error) {
	updates := map[string]any{
		"status":     enums.CheckoutAttemptCompleted,
		"updated_at": time.Now().UTC(),
	}
	res := r.db.WithContext(ctx).Model(&models.CheckoutAttempt{}).
		Where("provider_session_id = ?", sessionID).
		Updates(updates)
	if res.Error != nil || res.RowsAffected > 0 || ref.Token == "" || ref.UserID == uuid.Nil {
		return res.RowsAffected, res.Error
	}
	q := r.db.WithContext(ctx).Model(&models.CheckoutAttempt{}).
		Where("user_id = ? AND attempt_token = ? AND status = ?", ref.UserID, ref.Token, enums.CheckoutAttemptPending)
	if ref.OrderID != nil {
		q = q.Where("order_id = ?", *ref.OrderID)
	} else {
		q = q.Where("order_id IS NULL")
	}
	res = q.Updates(updates)
	return res.RowsAffected, res.Error
}
