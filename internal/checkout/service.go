package checkout

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/stripe"
)

const maxAttemptTokenLen = 128

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type sessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req stripe.CheckoutSessionRequest) (*stripe.CheckoutSession, error)
}

type propertyLookup interface {
	FindOwned(ctx context.Context, id, ownerID uuid.UUID) (*models.Property, error)
}

// Request is a client checkout call. AttemptToken is generated by the client
// once per purchase intent and resent on every retry.
type Request struct {
	Purpose           enums.CheckoutPurpose
	AttemptToken      string
	PropertyID        *uuid.UUID
	Quantity          int64
	DesignArtifactKey *string
	CustomerEmail     string
	Params            map[string]any
}

// Result points the client at the provider-hosted checkout page.
type Result struct {
	AttemptID  uuid.UUID
	OrderID    *uuid.UUID
	SessionID  string
	SessionURL string
	Reused     bool
}

type ServiceParams struct {
	Config     config.CheckoutConfig
	DB         txRunner
	Attempts   *Repository
	Orders     orders.Repository
	Properties propertyLookup
	Provider   sessionCreator
	Logger     *logger.Logger
}

type Service struct {
	cfg        config.CheckoutConfig
	tx         txRunner
	attempts   *Repository
	orders     orders.Repository
	properties propertyLookup
	provider   sessionCreator
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Attempts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout attempt repository required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Properties == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "property lookup required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout provider required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		cfg:        params.Config,
		tx:         params.DB,
		attempts:   params.Attempts,
		orders:     params.Orders,
		properties: params.Properties,
		provider:   params.Provider,
		logg:       params.Logger,
	}, nil
}

// CreateOrReuse returns the provider session for this attempt, creating the
// order, the attempt row and the session only the first time a given
// (user, attempt token, parameters) triple is seen.
func (s *Service) CreateOrReuse(ctx context.Context, userID uuid.UUID, req Request) (*Result, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	priceID := s.cfg.PriceFor(string(req.Purpose))
	if priceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purpose is not available for purchase")
	}
	if req.PropertyID != nil {
		if _, err := s.properties.FindOwned(ctx, *req.PropertyID, userID); err != nil {
			if db.IsNotFound(err) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "property not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load property")
		}
	}

	hash, err := ParamsHash(canonicalParams(req))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid checkout params")
	}

	attempt, err := s.attempts.FindByTokenAndHash(ctx, userID, req.AttemptToken, hash)
	switch {
	case err == nil:
		if attempt.ProviderSessionID != nil && attempt.SessionURL != nil {
			return resultFrom(attempt, true), nil
		}
	case db.IsNotFound(err):
		attempt, err = s.createAttempt(ctx, userID, req, hash)
		if err != nil {
			return nil, err
		}
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout attempt")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"attempt_id":      attempt.ID.String(),
		"purpose":         string(req.Purpose),
		"idempotency_key": attempt.IdempotencyKey,
	})

	session, err := s.provider.CreateCheckoutSession(ctx, s.sessionRequest(userID, attempt, req, priceID))
	if err != nil {
		s.logg.Error(ctx, "checkout session creation failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.attempts.WithTx(tx).SetSession(ctx, attempt.ID, session.ID, session.URL); err != nil {
			return err
		}
		if attempt.OrderID != nil {
			return s.orders.WithTx(tx).SetProviderSession(ctx, *attempt.OrderID, session.ID)
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout session")
	}
	attempt.ProviderSessionID = &session.ID
	attempt.SessionURL = &session.URL
	s.logg.Info(ctx, "checkout session created")
	return resultFrom(attempt, false), nil
}

func (s *Service) validate(req Request) error {
	if !req.Purpose.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid purpose")
	}
	token := strings.TrimSpace(req.AttemptToken)
	if token == "" || len(token) > maxAttemptTokenLen {
		return pkgerrors.New(pkgerrors.CodeValidation, "attempt_token is required")
	}
	if req.Purpose == enums.CheckoutPurposeListingKit && req.PropertyID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "listing kits require a property")
	}
	if req.Quantity < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}

func (s *Service) createAttempt(ctx context.Context, userID uuid.UUID, req Request, hash string) (*models.CheckoutAttempt, error) {
	var attempt *models.CheckoutAttempt
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		attempt = &models.CheckoutAttempt{
			UserID:         userID,
			Purpose:        req.Purpose,
			AttemptToken:   req.AttemptToken,
			IdempotencyKey: IdempotencyKey(string(req.Purpose), req.AttemptToken, hash),
			ParamsHash:     hash,
		}
		if orderType, ok := req.Purpose.OrderType(); ok {
			order := &models.Order{
				UserID:            userID,
				PropertyID:        req.PropertyID,
				OrderType:         orderType,
				DesignArtifactKey: req.DesignArtifactKey,
			}
			if err := s.orders.WithTx(tx).Create(ctx, order); err != nil {
				return err
			}
			attempt.OrderID = &order.ID
		}
		return s.attempts.WithTx(tx).Insert(ctx, attempt)
	})
	if err == nil {
		return attempt, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout attempt")
	}
	// A concurrent retry won the insert; continue with its row.
	existing, findErr := s.attempts.FindByTokenAndHash(ctx, userID, req.AttemptToken, hash)
	if db.IsNotFound(findErr) {
		// The idempotency key is global, so another user may already hold it.
		other, otherErr := s.attempts.FindByIdempotencyKey(ctx, IdempotencyKey(string(req.Purpose), req.AttemptToken, hash))
		if otherErr == nil && other.UserID != userID {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "attempt_token is already in use")
		}
	}
	if findErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, errors.Join(err, findErr), "reload checkout attempt")
	}
	return existing, nil
}

func (s *Service) sessionRequest(userID uuid.UUID, attempt *models.CheckoutAttempt, req Request, priceID string) stripe.CheckoutSessionRequest {
	metadata := map[string]string{
		"purpose":       string(req.Purpose),
		"attempt_token": attempt.AttemptToken,
		"user_id":       userID.String(),
	}
	reference := userID.String()
	if attempt.OrderID != nil {
		metadata["order_id"] = attempt.OrderID.String()
		reference = attempt.OrderID.String()
	}
	if req.PropertyID != nil {
		metadata["property_id"] = req.PropertyID.String()
	}
	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	orderType, _ := req.Purpose.OrderType()
	return stripe.CheckoutSessionRequest{
		Subscription:      req.Purpose == enums.CheckoutPurposeSubscription,
		PriceID:           priceID,
		Quantity:          quantity,
		SuccessURL:        s.cfg.SuccessURL,
		CancelURL:         s.cfg.CancelURL,
		ClientReferenceID: reference,
		CustomerEmail:     req.CustomerEmail,
		CollectShipping:   orderType.IsPhysical(),
		Metadata:          metadata,
		IdempotencyKey:    attempt.IdempotencyKey,
	}
}

func canonicalParams(req Request) map[string]any {
	params := map[string]any{
		"purpose":  string(req.Purpose),
		"quantity": req.Quantity,
	}
	if req.PropertyID != nil {
		params["property_id"] = req.PropertyID.String()
	}
	if req.DesignArtifactKey != nil {
		params["design_artifact_key"] = *req.DesignArtifactKey
	}
	if len(req.Params) > 0 {
		params["extra"] = req.Params
	}
	return params
}

func resultFrom(attempt *models.CheckoutAttempt, reused bool) *Result {
	result := &Result{
		AttemptID: attempt.ID,
		OrderID:   attempt.OrderID,
		Reused:    reused,
	}
	if attempt.ProviderSessionID != nil {
		result.SessionID = *attempt.ProviderSessionID
	}
	if attempt.SessionURL != nil {
		result.SessionURL = *attempt.SessionURL
	}
	return result
}
