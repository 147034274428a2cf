package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/fulfillment-engine/pkg/bootstrap"
	"github.com/angelmondragon/fulfillment-engine/pkg/metrics"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox/registry"
	"github.com/angelmondragon/fulfillment-engine/pkg/pubsub"
)

func main() {
	proc := bootstrap.Must(bootstrap.Start("outbox-publisher"))
	cfg, logg := proc.Config, proc.Logger

	ctx, stop := proc.SignalContext(map[string]any{
		"batch_size":  cfg.Outbox.BatchSize,
		"concurrency": cfg.Outbox.Concurrency,
		"topics":      []string{cfg.PubSub.FulfillmentTopic, cfg.PubSub.OperatorTopic},
	})
	defer stop()

	dbClient, err := proc.OpenDB(ctx)
	if err != nil {
		proc.Fatal(ctx, "database unavailable", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		proc.Fatal(ctx, "pubsub unavailable", err)
	}
	proc.Defer("pubsub", pubsubClient)

	routes, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		proc.Fatal(ctx, "invalid topic configuration", err)
	}

	conn := dbClient.DB()
	publisher, err := NewService(ServiceParams{
		Config:        cfg.Outbox,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(conn),
		Registry:      routes,
		DLQRepository: outbox.NewDLQRepository(conn),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		proc.Fatal(ctx, "outbox publisher misconfigured", err)
	}

	logg.Info(ctx, "outbox publisher running")
	runErr := publisher.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		proc.Fatal(ctx, "outbox publisher stopped", runErr)
	}
	_ = proc.Shutdown(context.WithoutCancel(ctx))
	logg.Info(ctx, "outbox publisher stopped")
}
