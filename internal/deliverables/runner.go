package deliverables

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/metrics"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox/payloads"
)

var errLeaseAbandoned = errors.New("lease expired during generation")

const (
	defaultBatchSize   = 5
	defaultPollMS      = 2000
	defaultLease       = 5 * time.Minute
	defaultBackoffBase = time.Minute
	defaultBackoffMax  = time.Hour
	maxIdleWait        = 30 * time.Second
	idleJitter         = 500 * time.Millisecond
)

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type RunnerParams struct {
	Config    config.DeliverablesConfig
	DB        txRunner
	Repo      *Repository
	Generator Generator
	Outbox    outboxEmitter
	Metrics   *metrics.FulfillmentMetrics
	Logger    *logger.Logger
	Owner     string
	Now       func() time.Time
}

// Runner leases due jobs and drives them to ready or dead.
type Runner struct {
	tx          txRunner
	repo        *Repository
	gen         Generator
	outbox      outboxEmitter
	metrics     *metrics.FulfillmentMetrics
	logg        *logger.Logger
	owner       string
	batchSize   int
	poll        time.Duration
	lease       time.Duration
	backoffBase time.Duration
	backoffMax  time.Duration
	now         func() time.Time
}

func NewRunner(params RunnerParams) (*Runner, error) {
	if params.DB == nil {
		return nil, errors.New("transaction runner is required")
	}
	if params.Repo == nil {
		return nil, errors.New("deliverable repository is required")
	}
	if params.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	cfg := params.Config
	owner := params.Owner
	if owner == "" {
		owner = "deliverable-" + uuid.NewString()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMS := cfg.PollIntervalMS
	if pollMS <= 0 {
		pollMS = defaultPollMS
	}
	lease := cfg.LeaseDuration
	if lease <= 0 {
		lease = defaultLease
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	capped := cfg.BackoffMax
	if capped <= 0 {
		capped = defaultBackoffMax
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Runner{
		tx:          params.DB,
		repo:        params.Repo,
		gen:         params.Generator,
		outbox:      params.Outbox,
		metrics:     params.Metrics,
		logg:        params.Logger,
		owner:       owner,
		batchSize:   batch,
		poll:        time.Duration(pollMS) * time.Millisecond,
		lease:       lease,
		backoffBase: base,
		backoffMax:  capped,
		now:         now,
	}, nil
}

// Run polls until ctx is canceled. Idle polls back off with jitter up to
// maxIdleWait.
func (r *Runner) Run(ctx context.Context) error {
	idle := r.idleBackoff()
	for {
		select {
		case <-ctx.Done():
			r.logg.Info(ctx, "deliverable runner stopping")
			return ctx.Err()
		default:
		}

		processed, err := r.RunOnce(ctx)
		if err != nil {
			r.logg.Error(ctx, "deliverable batch error", err)
		}
		if processed > 0 {
			idle = r.idleBackoff()
			continue
		}
		wait, _ := idle.Next()
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RunOnce claims one batch and processes it. Per-job errors are combined.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	jobs, err := r.ClaimBatch(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	var errs error
	for i := range jobs {
		errs = multierr.Append(errs, r.process(ctx, &jobs[i]))
	}
	return len(jobs), errs
}

// ClaimBatch leases up to n due jobs to this runner. A generating job whose
// lease ran out was abandoned mid-run; taking it over spends an attempt, and
// one already on its last attempt is dead-lettered instead.
func (r *Runner) ClaimBatch(ctx context.Context, n int) ([]models.DeliverableJob, error) {
	if n <= 0 {
		n = r.batchSize
	}
	now := r.now()
	until := now.Add(r.lease)
	var claimed []models.DeliverableJob
	var buried []models.DeliverableJob
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		rows, err := repo.LockDue(ctx, now, n)
		if err != nil {
			return err
		}
		for _, row := range rows {
			var ok bool
			if row.Status == enums.DeliverableGenerating {
				attempts := row.AttemptCount + 1
				if attempts >= row.MaxAttempts {
					ok, err = r.buryExpired(ctx, tx, row, attempts, now)
					if err != nil {
						return err
					}
					if ok {
						row.AttemptCount = attempts
						buried = append(buried, row)
					}
					continue
				}
				ok, err = repo.Reclaim(ctx, row.ID, r.owner, attempts, now, until)
				row.AttemptCount = attempts
			} else {
				ok, err = repo.Lease(ctx, row.ID, r.owner, now, until)
			}
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			row.Status = enums.DeliverableGenerating
			owner := r.owner
			row.LockedBy = &owner
			row.LeaseExpiresAt = &until
			claimed = append(claimed, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, job := range buried {
		r.metrics.IncDeliverable(string(job.Kind), "dead")
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"job_id":        job.ID.String(),
			"attempt_count": job.AttemptCount,
		}), "deliverable abandoned on its last attempt")
	}
	return claimed, nil
}

func (r *Runner) buryExpired(ctx context.Context, tx *gorm.DB, job models.DeliverableJob, attempts int, now time.Time) (bool, error) {
	ok, err := r.repo.WithTx(tx).BuryExpired(ctx, job.ID, attempts, now, errLeaseAbandoned.Error())
	if err != nil || !ok {
		return ok, err
	}
	return true, r.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDeliverableDead,
		AggregateType: enums.AggregateDeliverableJob,
		AggregateID:   job.ID,
		Data: payloads.DeliverableDeadEvent{
			JobID:        job.ID,
			UserID:       job.UserID,
			Kind:         job.Kind,
			AttemptCount: attempts,
			LastError:    errLeaseAbandoned.Error(),
		},
	})
}

func (r *Runner) process(ctx context.Context, job *models.DeliverableJob) error {
	ctx = r.logg.WithJobID(ctx, string(job.Kind), job.ID.String())
	stop := r.keepLease(ctx, job.ID)
	resultRef, genErr := r.gen.Generate(ctx, job)
	stop()
	if genErr == nil {
		return r.complete(ctx, job, resultRef)
	}

	attempts := job.AttemptCount + 1
	if attempts >= job.MaxAttempts {
		return r.bury(ctx, job, attempts, genErr)
	}
	next := r.now().Add(r.RetryDelay(attempts))
	ok, err := r.repo.MarkRetry(ctx, job.ID, r.owner, attempts, next, genErr)
	if err != nil {
		return err
	}
	if !ok {
		r.logg.Warn(ctx, "deliverable lease lost before retry was recorded")
		return nil
	}
	r.metrics.IncDeliverable(string(job.Kind), "retry")
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"attempt_count":   attempts,
		"next_attempt_at": next,
		"error":           genErr.Error(),
	}), "deliverable attempt failed")
	return nil
}

func (r *Runner) complete(ctx context.Context, job *models.DeliverableJob, resultRef string) error {
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := r.repo.WithTx(tx).MarkReady(ctx, job.ID, r.owner, resultRef)
		if err != nil || !ok {
			return err
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliverableReady,
			AggregateType: enums.AggregateDeliverableJob,
			AggregateID:   job.ID,
			Data: payloads.DeliverableReadyEvent{
				JobID:     job.ID,
				UserID:    job.UserID,
				Kind:      job.Kind,
				ResultRef: resultRef,
			},
		})
	})
	if err != nil {
		return err
	}
	r.metrics.IncDeliverable(string(job.Kind), "ready")
	r.logg.Info(r.logg.WithField(ctx, "result_ref", resultRef), "deliverable ready")
	return nil
}

func (r *Runner) bury(ctx context.Context, job *models.DeliverableJob, attempts int, cause error) error {
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := r.repo.WithTx(tx).MarkDead(ctx, job.ID, r.owner, attempts, cause)
		if err != nil || !ok {
			return err
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliverableDead,
			AggregateType: enums.AggregateDeliverableJob,
			AggregateID:   job.ID,
			Data: payloads.DeliverableDeadEvent{
				JobID:        job.ID,
				UserID:       job.UserID,
				Kind:         job.Kind,
				AttemptCount: attempts,
				LastError:    truncate(cause.Error(), maxLastErrorLen),
			},
		})
	})
	if err != nil {
		return err
	}
	r.metrics.IncDeliverable(string(job.Kind), "dead")
	r.logg.Error(r.logg.WithField(ctx, "attempt_count", attempts), "deliverable job dead", cause)
	return nil
}

// keepLease renews the job's lease every third of the lease duration until
// the returned stop func is called.
func (r *Runner) keepLease(ctx context.Context, id uuid.UUID) func() {
	interval := r.lease / 3
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := r.now()
				ok, err := r.repo.ExtendLease(ctx, id, r.owner, now, now.Add(r.lease))
				if err != nil {
					r.logg.Error(ctx, "deliverable lease renewal failed", err)
					continue
				}
				if !ok {
					r.logg.Warn(ctx, "deliverable lease lost during generation")
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// RetryDelay is backoffBase·2^(attempt-1), capped at backoffMax.
func (r *Runner) RetryDelay(attempt int) time.Duration {
	b := retry.WithCappedDuration(r.backoffMax, retry.NewExponential(r.backoffBase))
	delay := r.backoffBase
	for i := 0; i < attempt; i++ {
		delay, _ = b.Next()
	}
	return delay
}

func (r *Runner) idleBackoff() retry.Backoff {
	b := retry.NewExponential(r.poll)
	b = retry.WithCappedDuration(maxIdleWait, b)
	return retry.WithJitter(idleJitter, b)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
