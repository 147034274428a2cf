package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Locker
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds each job; zero means one interval.
	JobTimeout time.Duration
}

// Service runs every registered job once per interval on whichever instance
// holds the lease.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Locker
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("cron: logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("cron: lock required")
	}
	s := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
	}
	if s.registry == nil {
		s.registry = &Registry{}
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.jobTimeout <= 0 {
		s.jobTimeout = s.interval
	}
	return s, nil
}

// Run executes a cycle immediately and then on every tick until ctx ends.
// Cycle failures are logged, never returned.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs every job under the lease. A failing job does not stop the
// ones after it; their errors are combined.
func (s *Service) RunOnce(ctx context.Context) error {
	lease, err := s.lock.TryAcquire(ctx)
	if err != nil {
		return err
	}
	if lease == nil {
		s.logg.Debug(ctx, "cron lease held by another instance")
		return nil
	}
	defer s.release(ctx, lease)

	var errs error
	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			break
		}
		if err := s.runJob(ctx, job); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	return errs
}

func (s *Service) release(ctx context.Context, lease *Lease) {
	err := lease.Release(context.WithoutCancel(ctx))
	switch {
	case errors.Is(err, ErrLockLost):
		s.logg.Warn(ctx, "cron lease expired mid-cycle")
	case err != nil:
		s.logg.Error(ctx, "cron lease release failed", err)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx, cancel := context.WithTimeout(s.logg.WithField(ctx, "job", job.Name()), s.jobTimeout)
	defer cancel()

	started := time.Now()
	err := job.Run(jobCtx)
	took := time.Since(started)
	s.metrics.Observe(job.Name(), took, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "cron job failed", err)
		return err
	}
	s.logg.Info(jobCtx, "cron job finished")
	return nil
}
