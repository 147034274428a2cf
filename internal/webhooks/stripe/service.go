// Package stripewebhook is the event processor for billing provider webhooks.
// Every delivery is verified, recorded by provider event id and applied in a
// single transaction that also marks the event processed.
package stripewebhook

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/checkout"
	"github.com/angelmondragon/fulfillment-engine/internal/deliverables"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/internal/users"
	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/metrics"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	pkgstripe "github.com/angelmondragon/fulfillment-engine/pkg/stripe"
)

const defaultProcessingLease = 10 * time.Minute

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventVerifier interface {
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
}

type subscriptionFetcher interface {
	SubscriptionStatus(ctx context.Context, subscriptionID string) (string, error)
}

type assetLifecycle interface {
	ActivateForOrder(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.ReusableAsset, error)
	FreezeForOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, status enums.SubscriptionStatus) ([]uuid.UUID, error)
	UnfreezeForOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) (int64, error)
}

type printEnqueuer interface {
	Enqueue(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.PrintJob, error)
}

type deliverableEnqueuer interface {
	Enqueue(ctx context.Context, tx *gorm.DB, req deliverables.EnqueueRequest) (*models.DeliverableJob, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// VerifierFunc adapts a plain function to the verifier the service expects.
type VerifierFunc func(payload []byte, header string) (stripe.Event, error)

func (f VerifierFunc) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	return f(payload, header)
}

type ServiceParams struct {
	Config        config.EventsConfig
	DB            txRunner
	Events        *EventStore
	Verifier      eventVerifier
	Orders        orders.Repository
	Attempts      *checkout.Repository
	Users         *users.Repository
	Assets        assetLifecycle
	PrintJobs     printEnqueuer
	Deliverables  deliverableEnqueuer
	Outbox        outboxEmitter
	Subscriptions subscriptionFetcher
	Metrics       *metrics.FulfillmentMetrics
	Logger        *logger.Logger
	Now           func() time.Time
}

type Service struct {
	tx            txRunner
	events        *EventStore
	verifier      eventVerifier
	orders        orders.Repository
	attempts      *checkout.Repository
	users         *users.Repository
	assets        assetLifecycle
	printJobs     printEnqueuer
	deliverables  deliverableEnqueuer
	outbox        outboxEmitter
	subscriptions subscriptionFetcher
	metrics       *metrics.FulfillmentMetrics
	logg          *logger.Logger
	lease         time.Duration
	now           func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.DB == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case params.Events == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event store required")
	case params.Verifier == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier required")
	case params.Orders == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repository required")
	case params.Attempts == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout attempt repository required")
	case params.Users == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user repository required")
	case params.Assets == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "asset service required")
	case params.PrintJobs == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "print job service required")
	case params.Deliverables == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "deliverable service required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox required")
	case params.Subscriptions == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription client required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	lease := params.Config.ProcessingLease
	if lease <= 0 {
		lease = defaultProcessingLease
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		tx:            params.DB,
		events:        params.Events,
		verifier:      params.Verifier,
		orders:        params.Orders,
		attempts:      params.Attempts,
		users:         params.Users,
		assets:        params.Assets,
		printJobs:     params.PrintJobs,
		deliverables:  params.Deliverables,
		outbox:        params.Outbox,
		subscriptions: params.Subscriptions,
		metrics:       params.Metrics,
		logg:          params.Logger,
		lease:         lease,
		now:           now,
	}, nil
}

// Handle verifies and applies one webhook delivery. A nil error means the
// provider can stop retrying, including for duplicates.
func (s *Service) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	event, err := s.verifier.ConstructEvent(payload, signature)
	if err != nil {
		s.metrics.ObserveEvent("unknown", "signature_invalid", 0)
		if errors.Is(err, pkgstripe.ErrSignature) {
			return "", pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "invalid webhook signature")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "webhook verification failed")
	}
	return s.Process(ctx, event, payload)
}

// Process applies an already verified event.
func (s *Service) Process(ctx context.Context, event stripe.Event, payload []byte) (Outcome, error) {
	if event.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	start := time.Now()
	eventType := string(event.Type)
	ctx = s.logg.WithEventID(ctx, event.ID, eventType)

	claim, err := s.events.Begin(ctx, event.ID, eventType, payload, s.now(), s.lease)
	if err != nil {
		s.metrics.ObserveEvent(eventType, string(OutcomeFailed), time.Since(start))
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment event")
	}
	if !claim.Proceed {
		s.metrics.ObserveEvent(eventType, string(claim.Outcome), time.Since(start))
		s.logg.Info(s.logg.WithField(ctx, "outcome", claim.Outcome), "payment event absorbed")
		return claim.Outcome, nil
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.dispatch(ctx, tx, &event); err != nil {
			return err
		}
		return s.events.WithTx(tx).MarkProcessed(ctx, event.ID, claim.Attempt, s.now())
	})
	if err != nil {
		if markErr := s.events.MarkFailed(ctx, event.ID, claim.Attempt, err.Error(), s.now()); markErr != nil {
			s.logg.Error(ctx, "failed to record payment event failure", markErr)
		}
		s.metrics.ObserveEvent(eventType, string(OutcomeFailed), time.Since(start))
		s.logg.Error(s.logg.WithField(ctx, "attempt", claim.Attempt), "payment event handler failed", err)
		if pkgerrors.As(err) != nil {
			return OutcomeFailed, err
		}
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply payment event")
	}
	s.metrics.ObserveEvent(eventType, string(OutcomeProcessed), time.Since(start))
	s.logg.Info(s.logg.WithField(ctx, "attempt", claim.Attempt), "payment event processed")
	return OutcomeProcessed, nil
}

func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return s.handleCheckoutSession(ctx, tx, event)
	case stripe.EventTypeCustomerSubscriptionUpdated, stripe.EventTypeCustomerSubscriptionDeleted:
		return s.handleSubscriptionChange(ctx, tx, event)
	case stripe.EventTypeInvoicePaid:
		return s.handleInvoicePaid(ctx, tx, event)
	default:
		return nil
	}
}
