package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Repository defines persistence operations for the orders table. Status
// changes are compare-and-set so re-delivered events cannot regress an order.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByProviderSession(ctx context.Context, sessionID string) (*models.Order, error)
	MarkPaid(ctx context.Context, id uuid.UUID, payment Payment) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, updates map[string]any) (bool, error)
	SetProviderSession(ctx context.Context, id uuid.UUID, sessionID string) error
	CountByStatus(ctx context.Context, status enums.OrderStatus) (int64, error)
}

// Payment carries the provider facts recorded when an order is paid.
type Payment struct {
	SessionID       string
	PaymentIntentID string
	AmountTotal     *int64
	Currency        string
	Shipping        datatypes.JSON
	PaidAt          time.Time
}

// PayableStatuses are the states a checkout completion may move to paid.
var PayableStatuses = []enums.OrderStatus{enums.OrderStatusPendingPayment, enums.OrderStatusPrintFailed}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Status == "" {
		order.Status = enums.OrderStatusPendingPayment
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByProviderSession(ctx context.Context, sessionID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("provider_session_id = ?", sessionID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkPaid moves pending_payment or print_failed orders to paid. It reports
// false when the order was already past those states.
func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, payment Payment) (bool, error) {
	paidAt := payment.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	updates := map[string]any{
		"paid_at":           paidAt,
		"fulfillment_error": nil,
	}
	if payment.SessionID != "" {
		updates["provider_session_id"] = payment.SessionID
	}
	if payment.PaymentIntentID != "" {
		updates["provider_payment_intent_id"] = payment.PaymentIntentID
	}
	if payment.AmountTotal != nil {
		updates["amount_total_cents"] = *payment.AmountTotal
	}
	if payment.Currency != "" {
		updates["currency"] = payment.Currency
	}
	if len(payment.Shipping) > 0 {
		updates["shipping"] = payment.Shipping
	}
	return r.Transition(ctx, id, PayableStatuses, enums.OrderStatusPaid, updates)
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetProviderSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"provider_session_id": sessionID,
			"updated_at":          time.Now().UTC(),
		}).Error
}

func (r *repository) CountByStatus(ctx context.Context, status enums.OrderStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Order{}).Where("status = ?", status).Count(&count).Error
	return count, err
}
