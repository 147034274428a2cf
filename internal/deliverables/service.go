// Package deliverables generates digital artifacts off the request path. Jobs
// are queued once entitlement is proven, then leased by runner processes that
// retry with exponential backoff until an attempt bound.
package deliverables

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/entitlements"
	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

const defaultMaxAttempts = 5

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type propertyLookup interface {
	FindOwned(ctx context.Context, id, ownerID uuid.UUID) (*models.Property, error)
}

// EnqueueRequest asks for one deliverable. OrderID is set when a purchase
// triggered the job and makes the request idempotent.
type EnqueueRequest struct {
	Kind       enums.DeliverableKind
	UserID     uuid.UUID
	PropertyID uuid.UUID
	OrderID    *uuid.UUID
}

// StatusView is the client-facing job state.
type StatusView struct {
	JobID        uuid.UUID               `json:"job_id"`
	Kind         enums.DeliverableKind   `json:"kind"`
	Status       enums.DeliverableStatus `json:"status"`
	ResultRef    *string                 `json:"result_ref,omitempty"`
	AttemptCount int                     `json:"attempt_count"`
	LastError    *string                 `json:"last_error,omitempty"`
}

type ServiceParams struct {
	Config       config.DeliverablesConfig
	DB           txRunner
	Repo         *Repository
	Properties   propertyLookup
	Entitlements *entitlements.Checker
	Logger       *logger.Logger
}

type Service struct {
	tx          txRunner
	repo        *Repository
	properties  propertyLookup
	checker     *entitlements.Checker
	logg        *logger.Logger
	maxAttempts int
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "deliverable repository required")
	}
	if params.Properties == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "property lookup required")
	}
	if params.Entitlements == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlement checker required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	maxAttempts := params.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Service{
		tx:          params.DB,
		repo:        params.Repo,
		properties:  params.Properties,
		checker:     params.Entitlements,
		logg:        params.Logger,
		maxAttempts: maxAttempts,
	}, nil
}

// Enqueue queues a job inside the caller's transaction after checking
// entitlement once. The payment handler calls it for listing kit orders.
func (s *Service) Enqueue(ctx context.Context, tx *gorm.DB, req EnqueueRequest) (*models.DeliverableJob, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if !req.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown deliverable kind")
	}
	if req.UserID == uuid.Nil || req.PropertyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user and property are required")
	}
	repo := s.repo.WithTx(tx)

	var (
		existing *models.DeliverableJob
		err      error
	)
	if req.OrderID != nil {
		existing, err = repo.FindByOrder(ctx, *req.OrderID)
	} else {
		existing, err = repo.FindPending(ctx, req.UserID, req.PropertyID, req.Kind)
	}
	if err == nil {
		return existing, nil
	}
	if !db.IsNotFound(err) {
		return nil, err
	}

	checker := s.checker.WithTx(tx)
	paid, err := checker.ListingKitPaid(ctx, req.UserID, req.PropertyID)
	if err != nil {
		return nil, err
	}
	if !paid {
		if paid, err = checker.ResourcePaid(ctx, req.PropertyID); err != nil {
			return nil, err
		}
	}
	if !paid {
		return nil, pkgerrors.New(pkgerrors.CodeEntitlementRequired, "a paid listing kit or unlock is required")
	}

	job := &models.DeliverableJob{
		Kind:        req.Kind,
		UserID:      req.UserID,
		PropertyID:  req.PropertyID,
		OrderID:     req.OrderID,
		Status:      enums.DeliverableQueued,
		MaxAttempts: s.maxAttempts,
	}
	if err := repo.Create(ctx, job); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithJobID(ctx, string(req.Kind), job.ID.String()), "deliverable job queued")
	return job, nil
}

// Request is the user-facing entry point: the caller must own the property.
func (s *Service) Request(ctx context.Context, userID, propertyID uuid.UUID, kind enums.DeliverableKind) (*models.DeliverableJob, error) {
	if _, err := s.properties.FindOwned(ctx, propertyID, userID); err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "property not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load property")
	}
	var job *models.DeliverableJob
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		job, err = s.Enqueue(ctx, tx, EnqueueRequest{Kind: kind, UserID: userID, PropertyID: propertyID})
		return err
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue deliverable")
	}
	return job, nil
}

// Status reports a job to its owner.
func (s *Service) Status(ctx context.Context, userID, jobID uuid.UUID) (*StatusView, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "deliverable job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load deliverable job")
	}
	if job.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "deliverable belongs to another user")
	}
	return &StatusView{
		JobID:        job.ID,
		Kind:         job.Kind,
		Status:       job.Status,
		ResultRef:    job.ResultRef,
		AttemptCount: job.AttemptCount,
		LastError:    job.LastError,
	}, nil
}
