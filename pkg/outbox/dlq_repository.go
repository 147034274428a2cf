package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

const maxDLQErrorLen = 1024

var errTxRequired = errors.New("transaction required")

// DLQRepository stores outbox rows the publisher gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errTxRequired
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := truncate(*entry.ErrorMessage, maxDLQErrorLen)
		entry.ErrorMessage = &msg
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("insert dlq entry for %s: %w", entry.EventID, err)
	}
	return nil
}

// Page lists entries newest failure first, resuming after the cursor.
func (r *DLQRepository) Page(ctx context.Context, after *pagination.Cursor, limit int) ([]models.OutboxDLQ, error) {
	var rows []models.OutboxDLQ
	err := r.db.WithContext(ctx).
		Scopes(pagination.Keyset("failed_at", pagination.Newest, after, limit)).
		Find(&rows).Error
	return rows, err
}

// FindByEventIDTx returns the entry for an outbox row, or nil when there is none.
func (r *DLQRepository) FindByEventIDTx(tx *gorm.DB, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	var entry models.OutboxDLQ
	err := tx.Where("event_id = ?", eventID).Order("failed_at DESC").First(&entry).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &entry, nil
}

// DeleteForEventTx removes every entry recorded for an outbox row.
func (r *DLQRepository) DeleteForEventTx(tx *gorm.DB, eventID uuid.UUID) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Where("event_id = ?", eventID).Delete(&models.OutboxDLQ{}).Error
}

// DeleteFailedBefore drops entries that failed before cutoff.
func (r *DLQRepository) DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		return 0, errTxRequired
	}
	res := tx.WithContext(ctx).Where("failed_at < ?", cutoff).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}
