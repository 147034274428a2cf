package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/cron"
	"github.com/angelmondragon/fulfillment-engine/internal/deliverables"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/internal/printjobs"
	stripewebhook "github.com/angelmondragon/fulfillment-engine/internal/webhooks/stripe"
	"github.com/angelmondragon/fulfillment-engine/pkg/bootstrap"
	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/metrics"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	proc := bootstrap.Must(bootstrap.Start("cron-worker"))
	cfg, logg := proc.Config, proc.Logger

	ctx, stop := proc.SignalContext(map[string]any{"interval": cfg.Cron.Interval.String()})
	defer stop()

	dbClient, err := proc.OpenDB(ctx)
	if err != nil {
		proc.Fatal(ctx, "database unavailable", err)
	}
	redisClient, err := proc.OpenRedis(ctx)
	if err != nil {
		proc.Fatal(ctx, "redis unavailable", err)
	}

	// The lease outlives one tick so a slow run is not overlapped by a peer.
	lockKey := redisClient.LockKey("cron-worker", lockEnv(cfg.App.Env))
	lock, err := cron.NewRedisLock(redisClient, lockKey, 2*cfg.Cron.Interval)
	if err != nil {
		proc.Fatal(ctx, "cron lock misconfigured", err)
	}

	jobs, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		proc.Fatal(ctx, "cron jobs misconfigured", err)
	}

	scheduler, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		proc.Fatal(ctx, "cron scheduler misconfigured", err)
	}

	if *once {
		if err := scheduler.RunOnce(ctx); err != nil {
			proc.Fatal(ctx, "cron cycle failed", err)
		}
		_ = proc.Shutdown(ctx)
		return
	}

	logg.Info(ctx, "cron worker running")
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fatal(ctx, "cron worker stopped", err)
	}
	_ = proc.Shutdown(context.WithoutCancel(ctx))
	logg.Info(ctx, "cron worker stopped")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	conn := dbClient.DB()
	events := outbox.NewRepository(conn)
	deadLetters := outbox.NewDLQRepository(conn)
	retention, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Logger: logg,
		DB:     dbClient,
		Rules: []cron.RetentionRule{
			{
				Table:   "outbox_events",
				KeepFor: cfg.Cron.OutboxKeepFor,
				Delete: func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
					return events.DeletePublishedBefore(ctx, tx, cutoff, cfg.Outbox.MaxAttempts)
				},
			},
			{Table: "outbox_dlq", KeepFor: cfg.Cron.DLQKeepFor, Delete: deadLetters.DeleteFailedBefore},
		},
	})
	if err != nil {
		return nil, err
	}
	backlog, err := cron.NewBacklogJob(cron.BacklogJobParams{
		Logger:   logg,
		Gauges:   metrics.NewBacklogGauges(prometheus.DefaultRegisterer),
		Counters: backlogCounters(cfg, conn),
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(retention, backlog)
}

func backlogCounters(cfg *config.Config, conn *gorm.DB) []cron.BacklogCounter {
	events := stripewebhook.NewEventStore(conn)
	jobs := printjobs.NewRepository(conn)
	orderRepo := orders.NewRepository(conn)
	deliverableRepo := deliverables.NewRepository(conn)
	return []cron.BacklogCounter{
		{Kind: "stuck_payment_events", Count: func(ctx context.Context, now time.Time) (int64, error) {
			return events.CountStuck(ctx, now.Add(-cfg.Events.ProcessingLease))
		}},
		{Kind: "stale_print_claims", Count: func(ctx context.Context, now time.Time) (int64, error) {
			return jobs.CountStaleClaims(ctx, now.Add(-cfg.PrintJobs.LeaseTimeout))
		}},
		{Kind: "parked_print_jobs", Count: func(ctx context.Context, _ time.Time) (int64, error) {
			return jobs.CountParked(ctx)
		}},
		{Kind: "print_failed_orders", Count: func(ctx context.Context, _ time.Time) (int64, error) {
			return orderRepo.CountByStatus(ctx, enums.OrderStatusPrintFailed)
		}},
		{Kind: "dead_deliverables", Count: func(ctx context.Context, _ time.Time) (int64, error) {
			return deliverableRepo.CountByStatus(ctx, enums.DeliverableDead)
		}},
	}
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
