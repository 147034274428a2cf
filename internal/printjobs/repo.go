package printjobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

var activeStatuses = []enums.PrintJobStatus{enums.PrintJobQueued, enums.PrintJobClaimed, enums.PrintJobDownloaded}

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

func (r *Repository) Create(ctx context.Context, job *models.PrintJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PrintJob, error) {
	var job models.PrintJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *Repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PrintJob, error) {
	var job models.PrintJob
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindByOrder returns the order's job. Each order owns at most one row,
// guaranteed by the order_<id> idempotency key.
func (r *Repository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.PrintJob, error) {
	var job models.PrintJob
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", IdempotencyKey(orderID)).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// LockClaimable selects queued jobs and claims whose lease expired before
// cutoff, oldest first. Parked jobs are never returned.
func (r *Repository) LockClaimable(ctx context.Context, cutoff time.Time, limit int) ([]models.PrintJob, error) {
	var rows []models.PrintJob
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("(status = ? OR (status = ? AND claimed_at < ?)) AND failed_at IS NULL",
			enums.PrintJobQueued, enums.PrintJobClaimed, cutoff).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Claim hands one job to workerID when it is still claimable. It reports false
// when another worker got there first.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID, workerID string, cutoff, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PrintJob{}).
		Where("id = ? AND (status = ? OR (status = ? AND claimed_at < ?)) AND failed_at IS NULL",
			id, enums.PrintJobQueued, enums.PrintJobClaimed, cutoff).
		Updates(map[string]any{
			"status":        enums.PrintJobClaimed,
			"claimed_by":    workerID,
			"claimed_at":    at,
			"downloaded_at": nil,
			"updated_at":    at,
		})
	return res.RowsAffected == 1, res.Error
}

// Advance moves a job owned by workerID from one of the from states to to.
func (r *Repository) Advance(ctx context.Context, id uuid.UUID, workerID string, from []enums.PrintJobStatus, to enums.PrintJobStatus, updates map[string]any) (bool, error) {
	values := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).Model(&models.PrintJob{}).
		Where("id = ? AND claimed_by = ? AND status IN ? AND failed_at IS NULL", id, workerID, from).
		Updates(values)
	return res.RowsAffected == 1, res.Error
}

// Park records a worker-reported failure. The job keeps its status but is no
// longer claimable.
func (r *Repository) Park(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.PrintJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failed_at":      at,
			"failure_reason": reason,
			"updated_at":     at,
		}).Error
}

// Reset is the administrative path back to queued. It also swaps in freshly
// written artifact references.
func (r *Repository) Reset(ctx context.Context, id uuid.UUID, artifactRef, metadataRef string) error {
	return r.db.WithContext(ctx).Model(&models.PrintJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         enums.PrintJobQueued,
			"claimed_by":     nil,
			"claimed_at":     nil,
			"downloaded_at":  nil,
			"failed_at":      nil,
			"failure_reason": nil,
			"artifact_ref":   artifactRef,
			"metadata_ref":   metadataRef,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// CountStaleClaims counts claims whose lease ran out before cutoff.
func (r *Repository) CountStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PrintJob{}).
		Where("status IN ? AND claimed_at < ? AND failed_at IS NULL",
			[]enums.PrintJobStatus{enums.PrintJobClaimed, enums.PrintJobDownloaded}, cutoff).
		Count(&count).Error
	return count, err
}

// CountParked counts jobs waiting on an operator after a failure report.
func (r *Repository) CountParked(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PrintJob{}).
		Where("failed_at IS NOT NULL").
		Count(&count).Error
	return count, err
}
