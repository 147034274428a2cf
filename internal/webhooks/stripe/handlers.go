package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/checkout"
	"github.com/angelmondragon/fulfillment-engine/internal/deliverables"
	"github.com/angelmondragon/fulfillment-engine/internal/entitlements"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox/payloads"
)

const (
	metaOrderID      = "order_id"
	metaUserID       = "user_id"
	metaAttemptToken = "attempt_token"
)

func (s *Service) handleCheckoutSession(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	raw, err := eventObject(event)
	if err != nil {
		return err
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
	}
	if sess.Mode == stripe.CheckoutSessionModeSubscription {
		return s.handleSubscriptionCheckout(ctx, tx, event, &sess)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		s.logg.Info(s.logg.WithField(ctx, "payment_status", sess.PaymentStatus), "checkout session not paid yet")
		return nil
	}

	orderRepo := s.orders.WithTx(tx)
	order, err := s.resolveOrder(ctx, orderRepo, &sess)
	if err != nil {
		return err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	ref := checkout.AttemptRef{UserID: order.UserID, OrderID: &order.ID, Token: sess.Metadata[metaAttemptToken]}
	if _, err := s.attempts.WithTx(tx).MarkCompletedBySession(ctx, sess.ID, ref); err != nil {
		return err
	}

	payment := orders.Payment{
		SessionID: sess.ID,
		Currency:  string(sess.Currency),
		Shipping:  shippingFrom(raw),
		PaidAt:    s.now(),
	}
	if sess.AmountTotal > 0 {
		amount := sess.AmountTotal
		payment.AmountTotal = &amount
	}
	if sess.PaymentIntent != nil {
		payment.PaymentIntentID = sess.PaymentIntent.ID
	}
	moved, err := orderRepo.MarkPaid(ctx, order.ID, payment)
	if err != nil {
		return err
	}
	order, err = orderRepo.FindByID(ctx, order.ID)
	if err != nil {
		return err
	}
	if moved {
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderPaidEvent{
				OrderID:         order.ID,
				UserID:          order.UserID,
				OrderType:       order.OrderType,
				PropertyID:      order.PropertyID,
				ProviderEventID: event.ID,
				PaidAt:          payment.PaidAt,
			},
		}); err != nil {
			return err
		}
	}
	if !entitlements.IsPaidStatus(order.Status) {
		s.logg.Warn(s.logg.WithField(ctx, "status", order.Status), "order not in a paid state after checkout")
		return nil
	}
	return s.fulfill(ctx, tx, order)
}

// fulfill starts the work an order type implies. Every branch is idempotent
// so redelivered or overlapping events converge on one asset and one job.
func (s *Service) fulfill(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	switch order.OrderType {
	case enums.OrderTypeListingUnlock:
		return nil
	case enums.OrderTypeSign:
		_, err := s.printJobs.Enqueue(ctx, tx, order)
		return err
	case enums.OrderTypeSmartSign:
		if _, err := s.assets.ActivateForOrder(ctx, tx, order); err != nil {
			return err
		}
		_, err := s.printJobs.Enqueue(ctx, tx, order)
		return err
	case enums.OrderTypeListingKit:
		if order.PropertyID == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "listing kit order has no property")
		}
		orderID := order.ID
		_, err := s.deliverables.Enqueue(ctx, tx, deliverables.EnqueueRequest{
			Kind:       enums.DeliverableKindListingKit,
			UserID:     order.UserID,
			PropertyID: *order.PropertyID,
			OrderID:    &orderID,
		})
		return err
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown order type "+string(order.OrderType))
	}
}

func (s *Service) resolveOrder(ctx context.Context, repo orders.Repository, sess *stripe.CheckoutSession) (*models.Order, error) {
	for _, candidate := range []string{sess.Metadata[metaOrderID], sess.ClientReferenceID} {
		id, err := uuid.Parse(candidate)
		if err != nil {
			continue
		}
		order, err := repo.FindByIDForUpdate(ctx, id)
		if err == nil {
			return order, nil
		}
		if !db.IsNotFound(err) {
			return nil, err
		}
	}
	if sess.ID != "" {
		order, err := repo.FindByProviderSession(ctx, sess.ID)
		if err == nil {
			return order, nil
		}
		if !db.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order matches checkout session "+sess.ID)
}

func (s *Service) handleSubscriptionCheckout(ctx context.Context, tx *gorm.DB, event *stripe.Event, sess *stripe.CheckoutSession) error {
	var customerID, subscriptionID string
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		subscriptionID = sess.Subscription.ID
	}
	if subscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription checkout without subscription id")
	}

	userRepo := s.users.WithTx(tx)
	var user *models.User
	for _, candidate := range []string{sess.Metadata[metaUserID], sess.ClientReferenceID} {
		id, err := uuid.Parse(candidate)
		if err != nil {
			continue
		}
		found, err := userRepo.FindByID(ctx, id)
		if err == nil {
			user = found
			break
		}
		if !db.IsNotFound(err) {
			return err
		}
	}
	if user == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no user matches subscription checkout "+sess.ID)
	}
	if err := userRepo.LinkProvider(ctx, user.ID, customerID, subscriptionID); err != nil {
		return err
	}
	ref := checkout.AttemptRef{UserID: user.ID, Token: sess.Metadata[metaAttemptToken]}
	if _, err := s.attempts.WithTx(tx).MarkCompletedBySession(ctx, sess.ID, ref); err != nil {
		return err
	}

	raw, err := s.subscriptions.SubscriptionStatus(ctx, subscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch subscription status")
	}
	return s.applySubscription(ctx, tx, user, subscriptionID, subscriptionStatus(raw), eventTime(event, s.now()))
}

func (s *Service) handleSubscriptionChange(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	raw, err := eventObject(event)
	if err != nil {
		return err
	}
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription")
	}
	status := subscriptionStatus(string(sub.Status))
	if event.Type == stripe.EventTypeCustomerSubscriptionDeleted {
		status = enums.SubscriptionStatusCanceled
	}
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	user, err := s.findSubscriber(ctx, tx, sub.ID, customerID, sub.Metadata[metaUserID])
	if err != nil {
		return err
	}
	if user == nil {
		s.logg.Warn(s.logg.WithField(ctx, "subscription_id", sub.ID), "subscription event for unknown user")
		return nil
	}
	if user.ProviderSubscriptionID == nil || *user.ProviderSubscriptionID != sub.ID {
		if err := s.users.WithTx(tx).LinkProvider(ctx, user.ID, customerID, sub.ID); err != nil {
			return err
		}
	}
	return s.applySubscription(ctx, tx, user, sub.ID, status, eventTime(event, s.now()))
}

func (s *Service) handleInvoicePaid(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	subscriptionID := event.GetObjectValue("subscription")
	if subscriptionID == "" {
		subscriptionID = event.GetObjectValue("parent", "subscription_details", "subscription")
	}
	customerID := event.GetObjectValue("customer")
	if subscriptionID == "" && customerID == "" {
		return nil
	}
	user, err := s.findSubscriber(ctx, tx, subscriptionID, customerID, "")
	if err != nil {
		return err
	}
	if user == nil {
		s.logg.Warn(s.logg.WithField(ctx, "subscription_id", subscriptionID), "invoice for unknown user")
		return nil
	}
	return s.applySubscription(ctx, tx, user, subscriptionID, enums.SubscriptionStatusActive, eventTime(event, s.now()))
}

// applySubscription stores the new status and freezes or unfreezes the
// owner's assets to match. Events older than the stored status are ignored.
func (s *Service) applySubscription(ctx context.Context, tx *gorm.DB, user *models.User, subscriptionID string, status enums.SubscriptionStatus, at time.Time) error {
	ctx = s.logg.WithUserID(ctx, user.ID.String())
	if user.SubscriptionUpdatedAt != nil && at.Before(*user.SubscriptionUpdatedAt) {
		s.logg.Info(s.logg.WithField(ctx, "status", status), "stale subscription event ignored")
		return nil
	}
	if err := s.users.WithTx(tx).UpdateSubscriptionStatus(ctx, user.ID, status, at); err != nil {
		return err
	}

	if entitlements.IsSubscriptionActive(status) {
		if _, err := s.assets.UnfreezeForOwner(ctx, tx, user.ID); err != nil {
			return err
		}
	} else if _, err := s.assets.FreezeForOwner(ctx, tx, user.ID, status); err != nil {
		return err
	}

	if user.SubscriptionStatus == status {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSubscriptionChanged,
		AggregateType: enums.AggregateUser,
		AggregateID:   user.ID,
		Data: payloads.SubscriptionChangedEvent{
			UserID:         user.ID,
			SubscriptionID: subscriptionID,
			Status:         status,
		},
	})
}

func (s *Service) findSubscriber(ctx context.Context, tx *gorm.DB, subscriptionID, customerID, userID string) (*models.User, error) {
	repo := s.users.WithTx(tx)
	lookups := []func() (*models.User, error){}
	if subscriptionID != "" {
		lookups = append(lookups, func() (*models.User, error) { return repo.FindByProviderSubscription(ctx, subscriptionID) })
	}
	if customerID != "" {
		lookups = append(lookups, func() (*models.User, error) { return repo.FindByProviderCustomer(ctx, customerID) })
	}
	if id, err := uuid.Parse(userID); err == nil {
		lookups = append(lookups, func() (*models.User, error) { return repo.FindByID(ctx, id) })
	}
	for _, lookup := range lookups {
		user, err := lookup()
		if err == nil {
			return user, nil
		}
		if !db.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, nil
}

func eventObject(event *stripe.Event) (json.RawMessage, error) {
	if event == nil || event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event data required")
	}
	return event.Data.Raw, nil
}

// subscriptionStatus maps provider statuses onto ours. An unrecognized status
// is stored as unpaid so it never entitles.
func subscriptionStatus(raw string) enums.SubscriptionStatus {
	status, err := enums.ParseSubscriptionStatus(raw)
	if err != nil {
		return enums.SubscriptionStatusUnpaid
	}
	return status
}

func eventTime(event *stripe.Event, fallback time.Time) time.Time {
	if event.Created > 0 {
		return time.Unix(event.Created, 0).UTC()
	}
	return fallback
}

// shippingFrom pulls the shipping block from either the legacy top-level
// field or collected_information, depending on the API version.
func shippingFrom(raw json.RawMessage) datatypes.JSON {
	var envelope struct {
		ShippingDetails      json.RawMessage `json:"shipping_details"`
		CollectedInformation *struct {
			ShippingDetails json.RawMessage `json:"shipping_details"`
		} `json:"collected_information"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	details := envelope.ShippingDetails
	if isNullJSON(details) && envelope.CollectedInformation != nil {
		details = envelope.CollectedInformation.ShippingDetails
	}
	if isNullJSON(details) {
		return nil
	}
	return datatypes.JSON(details)
}

func isNullJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
