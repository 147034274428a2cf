// Package printjobs owns the queue that hands physical print work to the
// external fleet. Workers claim jobs under a lease, download the artifact and
// report the outcome; the order's status follows the job.
package printjobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/metrics"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox/payloads"
	"github.com/angelmondragon/fulfillment-engine/pkg/storage"
)

const (
	defaultClaimLimit = 10
	maxClaimLimit     = 50
	defaultLease      = 10 * time.Minute
	maxReasonLen      = 500

	errArtifactMissing = "design artifact missing"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// IdempotencyKey is the per-order uniqueness key of a print job.
func IdempotencyKey(orderID uuid.UUID) string {
	return "order_" + orderID.String()
}

// ArtifactKey and MetadataKey are the storage locations of a job's files.
func ArtifactKey(jobID uuid.UUID) string { return "print-jobs/" + jobID.String() + ".pdf" }

func MetadataKey(jobID uuid.UUID) string { return "print-jobs/" + jobID.String() + ".json" }

// Metadata is the JSON record written next to every print artifact.
type Metadata struct {
	JobID      uuid.UUID       `json:"job_id"`
	OrderID    uuid.UUID       `json:"order_id"`
	OrderType  enums.OrderType `json:"order_type"`
	UserID     uuid.UUID       `json:"user_id"`
	PropertyID *uuid.UUID      `json:"property_id,omitempty"`
	Shipping   json.RawMessage `json:"shipping,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ClaimedJob is what a worker receives for each claimed job.
type ClaimedJob struct {
	JobID       uuid.UUID
	OrderID     uuid.UUID
	ArtifactRef string
	MetadataRef string
	ClaimedAt   time.Time
}

// File is a downloaded artifact or metadata document.
type File struct {
	Data        []byte
	ContentType string
}

type ServiceParams struct {
	Config  config.PrintJobsConfig
	DB      txRunner
	Repo    *Repository
	Orders  orders.Repository
	Store   storage.Store
	Outbox  outboxEmitter
	Metrics *metrics.FulfillmentMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

type Service struct {
	tx           txRunner
	repo         *Repository
	orders       orders.Repository
	store        storage.Store
	outbox       outboxEmitter
	metrics      *metrics.FulfillmentMetrics
	logg         *logger.Logger
	lease        time.Duration
	defaultClaim int
	maxClaim     int
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "print job repository required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repository required")
	}
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "artifact store required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	lease := params.Config.LeaseTimeout
	if lease <= 0 {
		lease = defaultLease
	}
	maxClaim := params.Config.MaxClaim
	if maxClaim <= 0 {
		maxClaim = maxClaimLimit
	}
	defaultClaim := params.Config.DefaultClaim
	if defaultClaim <= 0 || defaultClaim > maxClaim {
		defaultClaim = min(defaultClaimLimit, maxClaim)
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		tx:           params.DB,
		repo:         params.Repo,
		orders:       params.Orders,
		store:        params.Store,
		outbox:       params.Outbox,
		metrics:      params.Metrics,
		logg:         params.Logger,
		lease:        lease,
		defaultClaim: defaultClaim,
		maxClaim:     maxClaim,
		now:          now,
	}, nil
}

// Enqueue queues print work for a paid physical order inside the caller's
// transaction. An order that already has a live job is left alone, and a
// parked job is reset in place. When the design artifact is missing the order
// moves to print_failed and Enqueue returns a nil job without error.
func (s *Service) Enqueue(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.PrintJob, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if order == nil || !order.OrderType.IsPhysical() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only physical orders are printed")
	}
	repo := s.repo.WithTx(tx)
	orderRepo := s.orders.WithTx(tx)
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	existing, err := repo.FindByOrder(ctx, order.ID)
	if err != nil && !db.IsNotFound(err) {
		return nil, err
	}
	if existing != nil && existing.FailedAt == nil {
		return existing, nil
	}

	ok, err := s.artifactPresent(ctx, order)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := orderRepo.Transition(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusPaid},
			enums.OrderStatusPrintFailed,
			map[string]any{"fulfillment_error": errArtifactMissing},
		); err != nil {
			return nil, err
		}
		s.logg.Warn(ctx, "print job not queued: design artifact missing")
		return nil, nil
	}

	jobID := uuid.New()
	if existing != nil {
		jobID = existing.ID
	}
	artifactRef, metadataRef, err := s.writeFiles(ctx, jobID, order)
	if err != nil {
		return nil, err
	}

	var job *models.PrintJob
	if existing != nil {
		if err := repo.Reset(ctx, existing.ID, artifactRef, metadataRef); err != nil {
			return nil, err
		}
		job, err = repo.FindByID(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
	} else {
		job = &models.PrintJob{
			ID:             jobID,
			OrderID:        order.ID,
			IdempotencyKey: IdempotencyKey(order.ID),
			Status:         enums.PrintJobQueued,
			ArtifactRef:    artifactRef,
			MetadataRef:    metadataRef,
			CreatedAt:      s.now(),
		}
		if err := repo.Create(ctx, job); err != nil {
			return nil, err
		}
	}

	if _, err := orderRepo.Transition(ctx, order.ID,
		[]enums.OrderStatus{enums.OrderStatusPaid},
		enums.OrderStatusSubmittedToPrinter,
		map[string]any{"fulfillment_error": nil},
	); err != nil {
		return nil, err
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPrintJobQueued,
		AggregateType: enums.AggregatePrintJob,
		AggregateID:   job.ID,
		Data: payloads.PrintJobQueuedEvent{
			JobID:       job.ID,
			OrderID:     order.ID,
			OrderType:   order.OrderType,
			ArtifactRef: job.ArtifactRef,
			MetadataRef: job.MetadataRef,
		},
	}); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithJobID(ctx, "print", job.ID.String()), "print job queued")
	return job, nil
}

// Claim leases up to limit jobs to workerID. Expired claims from crashed
// workers are reclaimed in creation order alongside fresh jobs.
func (s *Service) Claim(ctx context.Context, workerID string, limit int) ([]ClaimedJob, error) {
	if workerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "worker id required")
	}
	if limit <= 0 {
		limit = s.defaultClaim
	}
	if limit > s.maxClaim {
		limit = s.maxClaim
	}
	now := s.now()
	cutoff := now.Add(-s.lease)
	claimed := []ClaimedJob{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.LockClaimable(ctx, cutoff, limit)
		if err != nil {
			return err
		}
		for _, row := range rows {
			ok, err := repo.Claim(ctx, row.ID, workerID, cutoff, now)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			claimed = append(claimed, ClaimedJob{
				JobID:       row.ID,
				OrderID:     row.OrderID,
				ArtifactRef: row.ArtifactRef,
				MetadataRef: row.MetadataRef,
				ClaimedAt:   now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim print jobs")
	}
	s.metrics.AddClaimed(len(claimed))
	if len(claimed) > 0 {
		s.logg.Info(s.logg.WithField(s.logg.WithWorkerID(ctx, workerID), "claimed", len(claimed)), "print jobs claimed")
	}
	return claimed, nil
}

// Download returns the artifact bytes of a job held by workerID.
func (s *Service) Download(ctx context.Context, jobID uuid.UUID, workerID string) (*File, error) {
	job, err := s.ownedJob(ctx, jobID, workerID)
	if err != nil {
		return nil, err
	}
	return s.readFile(ctx, job.ArtifactRef)
}

// Metadata returns the metadata document of a job held by workerID.
func (s *Service) Metadata(ctx context.Context, jobID uuid.UUID, workerID string) (*File, error) {
	job, err := s.ownedJob(ctx, jobID, workerID)
	if err != nil {
		return nil, err
	}
	file, err := s.readFile(ctx, job.MetadataRef)
	if err != nil {
		return nil, err
	}
	file.ContentType = "application/json"
	return file, nil
}

// AckDownloaded records that the worker has the artifact. Repeating it is a no-op.
func (s *Service) AckDownloaded(ctx context.Context, jobID uuid.UUID, workerID string) (*models.PrintJob, error) {
	job, err := s.ownedJob(ctx, jobID, workerID)
	if err != nil {
		return nil, err
	}
	if job.Status == enums.PrintJobDownloaded {
		return job, nil
	}
	now := s.now()
	ok, err := s.repo.Advance(ctx, jobID, workerID,
		[]enums.PrintJobStatus{enums.PrintJobClaimed},
		enums.PrintJobDownloaded,
		map[string]any{"downloaded_at": now},
	)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acknowledge download")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeJobNotClaimed, "job is not claimed by this worker")
	}
	job.Status = enums.PrintJobDownloaded
	job.DownloadedAt = &now
	return job, nil
}

// MarkPrinted completes the job and fulfills its order in one transaction.
// Repeating it is a no-op.
func (s *Service) MarkPrinted(ctx context.Context, jobID uuid.UUID, workerID string) (*models.PrintJob, error) {
	if workerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "worker id required")
	}
	var result *models.PrintJob
	now := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		job, err := repo.FindByIDForUpdate(ctx, jobID)
		if err != nil {
			return jobLookupError(err)
		}
		if !heldBy(job, workerID) {
			return pkgerrors.New(pkgerrors.CodeJobNotClaimed, "job is not claimed by this worker")
		}
		if job.Status == enums.PrintJobPrinted {
			result = job
			return nil
		}
		if job.FailedAt != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "job was reported as failed")
		}
		ok, err := repo.Advance(ctx, jobID, workerID,
			[]enums.PrintJobStatus{enums.PrintJobClaimed, enums.PrintJobDownloaded},
			enums.PrintJobPrinted,
			map[string]any{"printed_at": now},
		)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeJobNotClaimed, "job is not claimed by this worker")
		}
		if _, err := s.orders.WithTx(tx).Transition(ctx, job.OrderID,
			[]enums.OrderStatus{enums.OrderStatusPaid, enums.OrderStatusSubmittedToPrinter},
			enums.OrderStatusFulfilled,
			map[string]any{"fulfilled_at": now},
		); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderFulfilled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   job.OrderID,
			Actor:         &outbox.ActorRef{WorkerID: workerID},
			Data: payloads.OrderFulfilledEvent{
				OrderID:     job.OrderID,
				PrintJobID:  job.ID,
				WorkerID:    workerID,
				FulfilledAt: now,
			},
		}); err != nil {
			return err
		}
		job.Status = enums.PrintJobPrinted
		job.PrintedAt = &now
		result = job
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err, "mark printed")
	}
	s.metrics.IncPrintOutcome("printed")
	s.logg.Info(s.logg.WithJobID(s.logg.WithWorkerID(ctx, workerID), "print", jobID.String()), "print job printed")
	return result, nil
}

// ReportFailure parks the job and moves its order to print_failed for an
// operator to reconcile. Repeating it is a no-op.
func (s *Service) ReportFailure(ctx context.Context, jobID uuid.UUID, workerID, reason string) (*models.PrintJob, error) {
	if workerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "worker id required")
	}
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "failure reason required")
	}
	reason = pkgerrors.Truncate(reason, maxReasonLen)
	var result *models.PrintJob
	now := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		job, err := repo.FindByIDForUpdate(ctx, jobID)
		if err != nil {
			return jobLookupError(err)
		}
		if !heldBy(job, workerID) {
			return pkgerrors.New(pkgerrors.CodeJobNotClaimed, "job is not claimed by this worker")
		}
		if job.FailedAt != nil {
			result = job
			return nil
		}
		if job.Status == enums.PrintJobPrinted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "job is already printed")
		}
		if err := repo.Park(ctx, jobID, reason, now); err != nil {
			return err
		}
		if _, err := s.orders.WithTx(tx).Transition(ctx, job.OrderID,
			[]enums.OrderStatus{enums.OrderStatusPaid, enums.OrderStatusSubmittedToPrinter},
			enums.OrderStatusPrintFailed,
			map[string]any{"fulfillment_error": reason},
		); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPrintJobFailed,
			AggregateType: enums.AggregatePrintJob,
			AggregateID:   job.ID,
			Actor:         &outbox.ActorRef{WorkerID: workerID},
			Data: payloads.PrintJobFailedEvent{
				JobID:    job.ID,
				OrderID:  job.OrderID,
				WorkerID: workerID,
				Reason:   reason,
				FailedAt: now,
			},
		}); err != nil {
			return err
		}
		job.FailedAt = &now
		job.FailureReason = &reason
		result = job
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err, "report print failure")
	}
	s.metrics.IncPrintOutcome("failed")
	s.logg.Warn(s.logg.WithJobID(s.logg.WithWorkerID(ctx, workerID), "print", jobID.String()), "print job reported failed")
	return result, nil
}

// ReconcilePrintFailed is the operator path for a print_failed order: the
// order returns to paid and its job is queued again.
func (s *Service) ReconcilePrintFailed(ctx context.Context, orderID uuid.UUID) (*models.PrintJob, error) {
	var job *models.PrintJob
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		order, err := orderRepo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return err
		}
		if order.Status != enums.OrderStatusPrintFailed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s, not print_failed", order.Status))
		}
		if _, err := orderRepo.Transition(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusPrintFailed},
			enums.OrderStatusPaid,
			map[string]any{"fulfillment_error": nil},
		); err != nil {
			return err
		}
		order.Status = enums.OrderStatusPaid
		job, err = s.Enqueue(ctx, tx, order)
		if err != nil {
			return err
		}
		if job == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, errArtifactMissing)
		}
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err, "reconcile print")
	}
	s.logg.Info(s.logg.WithOrderID(ctx, orderID.String()), "print_failed order reconciled")
	return job, nil
}

func (s *Service) artifactPresent(ctx context.Context, order *models.Order) (bool, error) {
	if order.DesignArtifactKey == nil || *order.DesignArtifactKey == "" {
		return false, nil
	}
	ok, err := s.store.Exists(ctx, *order.DesignArtifactKey)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check design artifact")
	}
	return ok, nil
}

func (s *Service) writeFiles(ctx context.Context, jobID uuid.UUID, order *models.Order) (string, string, error) {
	artifactRef := ArtifactKey(jobID)
	if err := s.store.Copy(ctx, *order.DesignArtifactKey, artifactRef); err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "copy design artifact")
	}
	meta := Metadata{
		JobID:      jobID,
		OrderID:    order.ID,
		OrderType:  order.OrderType,
		UserID:     order.UserID,
		PropertyID: order.PropertyID,
		CreatedAt:  s.now(),
	}
	if len(order.Shipping) > 0 {
		meta.Shipping = json.RawMessage(order.Shipping)
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", "", err
	}
	metadataRef := MetadataKey(jobID)
	if err := s.store.Put(ctx, metadataRef, data, "application/json"); err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write print metadata")
	}
	return artifactRef, metadataRef, nil
}

func (s *Service) ownedJob(ctx context.Context, jobID uuid.UUID, workerID string) (*models.PrintJob, error) {
	if workerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "worker id required")
	}
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, jobLookupError(err)
	}
	if !heldBy(job, workerID) || job.FailedAt != nil ||
		(job.Status != enums.PrintJobClaimed && job.Status != enums.PrintJobDownloaded) {
		return nil, pkgerrors.New(pkgerrors.CodeJobNotClaimed, "job is not claimed by this worker")
	}
	return job, nil
}

func (s *Service) readFile(ctx context.Context, key string) (*File, error) {
	data, contentType, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "artifact not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read artifact")
	}
	return &File{Data: data, ContentType: storage.DetectContentType(data, contentType)}, nil
}

func heldBy(job *models.PrintJob, workerID string) bool {
	return job.ClaimedBy != nil && *job.ClaimedBy == workerID
}

func jobLookupError(err error) error {
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "print job not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load print job")
}

func wrapTxError(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
