package deliverables

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

const maxLastErrorLen = 1024

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

func (r *Repository) Create(ctx context.Context, job *models.DeliverableJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.DeliverableJob, error) {
	var job models.DeliverableJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *Repository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.DeliverableJob, error) {
	var job models.DeliverableJob
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// FindPending returns an unfinished job for the same user, property and kind.
func (r *Repository) FindPending(ctx context.Context, userID, propertyID uuid.UUID, kind enums.DeliverableKind) (*models.DeliverableJob, error) {
	var job models.DeliverableJob
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND property_id = ? AND kind = ? AND status IN ?", userID, propertyID, kind,
			[]enums.DeliverableStatus{enums.DeliverableQueued, enums.DeliverableGenerating}).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// LockDue selects queued jobs that are due and generating jobs whose lease
// ran out. Jobs never attempted come first.
func (r *Repository) LockDue(ctx context.Context, now time.Time, limit int) ([]models.DeliverableJob, error) {
	var rows []models.DeliverableJob
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("(status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)) OR (status = ? AND lease_expires_at < ?)",
			enums.DeliverableQueued, now, enums.DeliverableGenerating, now).
		Order("CASE WHEN next_attempt_at IS NULL THEN 0 ELSE 1 END").
		Order("next_attempt_at ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Lease marks one due job as generating under owner until the lease expires.
func (r *Repository) Lease(ctx context.Context, id uuid.UUID, owner string, now, until time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DeliverableJob{}).
		Where("id = ? AND ((status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)) OR (status = ? AND lease_expires_at < ?))",
			id, enums.DeliverableQueued, now, enums.DeliverableGenerating, now).
		Updates(map[string]any{
			"status":           enums.DeliverableGenerating,
			"locked_by":        owner,
			"lease_expires_at": until,
			"updated_at":       now,
		})
	return res.RowsAffected == 1, res.Error
}

// Reclaim takes over a generating job whose lease ran out. The crashed run
// counts as an attempt.
func (r *Repository) Reclaim(ctx context.Context, id uuid.UUID, owner string, attempts int, now, until time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DeliverableJob{}).
		Where("id = ? AND status = ? AND lease_expires_at < ?", id, enums.DeliverableGenerating, now).
		Updates(map[string]any{
			"attempt_count":    attempts,
			"locked_by":        owner,
			"lease_expires_at": until,
			"updated_at":       now,
		})
	return res.RowsAffected == 1, res.Error
}

// BuryExpired dead-letters a generating job whose lease ran out on its last
// allowed attempt.
func (r *Repository) BuryExpired(ctx context.Context, id uuid.UUID, attempts int, now time.Time, cause string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DeliverableJob{}).
		Where("id = ? AND status = ? AND lease_expires_at < ?", id, enums.DeliverableGenerating, now).
		Updates(map[string]any{
			"status":           enums.DeliverableDead,
			"attempt_count":    attempts,
			"next_attempt_at":  nil,
			"locked_by":        nil,
			"lease_expires_at": nil,
			"last_error":       truncate(cause, maxLastErrorLen),
			"updated_at":       now,
		})
	return res.RowsAffected == 1, res.Error
}

// ExtendLease pushes the lease forward while owner is still generating.
func (r *Repository) ExtendLease(ctx context.Context, id uuid.UUID, owner string, now, until time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DeliverableJob{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, enums.DeliverableGenerating, owner).
		Updates(map[string]any{"lease_expires_at": until, "updated_at": now})
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) MarkReady(ctx context.Context, id uuid.UUID, owner, resultRef string) (bool, error) {
	return r.finish(ctx, id, owner, map[string]any{
		"status":     enums.DeliverableReady,
		"result_ref": resultRef,
		"last_error": nil,
	})
}

func (r *Repository) MarkRetry(ctx context.Context, id uuid.UUID, owner string, attempts int, next time.Time, cause error) (bool, error) {
	return r.finish(ctx, id, owner, map[string]any{
		"status":          enums.DeliverableQueued,
		"attempt_count":   attempts,
		"next_attempt_at": next,
		"last_error":      truncate(cause.Error(), maxLastErrorLen),
	})
}

func (r *Repository) MarkDead(ctx context.Context, id uuid.UUID, owner string, attempts int, cause error) (bool, error) {
	return r.finish(ctx, id, owner, map[string]any{
		"status":          enums.DeliverableDead,
		"attempt_count":   attempts,
		"next_attempt_at": nil,
		"last_error":      truncate(cause.Error(), maxLastErrorLen),
	})
}

// finish applies a terminal or retry update if owner still holds the lease.
func (r *Repository) finish(ctx context.Context, id uuid.UUID, owner string, values map[string]any) (bool, error) {
	values["locked_by"] = nil
	values["lease_expires_at"] = nil
	values["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.DeliverableJob{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, enums.DeliverableGenerating, owner).
		Updates(values)
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) CountByStatus(ctx context.Context, status enums.DeliverableStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DeliverableJob{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

func truncate(s string, n int) string {
	return pkgerrors.Truncate(s, n)
}
