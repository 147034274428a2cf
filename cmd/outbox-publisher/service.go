package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/metrics"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPoll           = 500 * time.Millisecond
	defaultMaxAttempts    = 10
	defaultConcurrency    = 8
	defaultPublishTimeout = 15 * time.Second
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config           config.OutboxConfig
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	DLQRepository    dlqRepository
	Metrics          *metrics.OutboxMetrics
	PublisherFactory publisherFactory
	PublishTimeout   time.Duration
}

// Service drains outbox_events to Pub/Sub. Each poll locks a batch inside one
// transaction, publishes it concurrently and records every row's outcome
// before committing.
type Service struct {
	logg           *logger.Logger
	db             dbClient
	repo           outboxRepository
	pubsub         pubSubClient
	registry       registryResolver
	dlq            dlqRepository
	metrics        *metrics.OutboxMetrics
	publishers     *topicPublishers
	batchSize      int
	maxAttempts    int
	concurrency    int
	pollInterval   time.Duration
	publishTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			return newGCPPublisher(params.PubSub.Publisher(topic))
		}
	}

	cfg := params.Config
	return &Service{
		logg:           params.Logger,
		db:             params.DB,
		repo:           params.Repository,
		pubsub:         params.PubSub,
		registry:       params.Registry,
		dlq:            params.DLQRepository,
		metrics:        params.Metrics,
		publishers:     newTopicPublishers(factory),
		batchSize:      positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:    positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		concurrency:    positiveOr(cfg.Concurrency, defaultConcurrency),
		pollInterval:   positiveOr(time.Duration(cfg.PollIntervalMS)*time.Millisecond, defaultPoll),
		publishTimeout: positiveOr(params.PublishTimeout, defaultPublishTimeout),
	}, nil
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", s.db.Ping},
		{"pubsub", s.pubsub.Ping},
	} {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(ctx, dep.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	return nil
}

// Run polls until ctx is done. A full batch polls again immediately; an empty
// one waits the poll interval; a failed one backs off exponentially.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	defer s.publishers.stopAll()

	backoff := s.newBackoff(s.pollInterval)
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		count, err := s.processBatch(ctx)
		wait := time.Duration(0)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait, _ = backoff.Next()
		case count < s.batchSize:
			backoff = s.newBackoff(s.pollInterval)
			wait = s.pollInterval
		default:
			backoff = s.newBackoff(s.pollInterval)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// newBackoff doubles from the poll interval up to maxBackoff, plus jitter.
func (s *Service) newBackoff(interval time.Duration) retry.Backoff {
	b := retry.NewExponential(interval)
	b = retry.WithCappedDuration(maxBackoff, b)
	return retry.WithJitter(jitterWindow, b)
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
