package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

const heartbeatInterval = 30 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

type jobRunner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies map[string]pinger
	Runner       jobRunner
	Heartbeat    time.Duration
}

type Service struct {
	logg      *logger.Logger
	deps      map[string]pinger
	runner    jobRunner
	heartbeat time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Runner == nil {
		return nil, errors.New("deliverable runner is required")
	}
	heartbeat := params.Heartbeat
	if heartbeat <= 0 {
		heartbeat = heartbeatInterval
	}
	return &Service{
		logg:      params.Logger,
		deps:      params.Dependencies,
		runner:    params.Runner,
		heartbeat: heartbeat,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, dep := range s.deps {
		if err := pingDependency(ctx, s.logg, name, dep.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until ctx is canceled or the runner exits.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.runner.Run(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "worker context canceled")
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "deliverable runner stopped unexpectedly", err)
			}
			return err
		case <-ticker.C:
			s.logg.Debug(ctx, "worker heartbeat")
		}
	}
}
