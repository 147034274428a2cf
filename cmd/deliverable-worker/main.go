package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/fulfillment-engine/internal/deliverables"
	"github.com/angelmondragon/fulfillment-engine/internal/properties"
	"github.com/angelmondragon/fulfillment-engine/pkg/bootstrap"
	"github.com/angelmondragon/fulfillment-engine/pkg/instance"
	"github.com/angelmondragon/fulfillment-engine/pkg/metrics"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/storage/blob"
)

func main() {
	proc := bootstrap.Must(bootstrap.Start("deliverable-worker"))
	cfg, logg := proc.Config, proc.Logger

	owner := instance.GetID()
	ctx, stop := proc.SignalContext(map[string]any{"instance": owner})
	defer stop()

	dbClient, err := proc.OpenDB(ctx)
	if err != nil {
		proc.Fatal(ctx, "database unavailable", err)
	}

	store, err := blob.Open(ctx, cfg, logg)
	if err != nil {
		proc.Fatal(ctx, "artifact store unavailable", err)
	}

	conn := dbClient.DB()
	runner, err := deliverables.NewRunner(deliverables.RunnerParams{
		Config:    cfg.Deliverables,
		DB:        dbClient,
		Repo:      deliverables.NewRepository(conn),
		Generator: deliverables.NewListingKitGenerator(store, properties.NewRepository(conn)),
		Outbox:    outbox.NewService(outbox.NewRepository(conn), logg),
		Metrics:   metrics.NewFulfillmentMetrics(prometheus.DefaultRegisterer),
		Logger:    logg,
		Owner:     owner,
	})
	if err != nil {
		proc.Fatal(ctx, "deliverable runner misconfigured", err)
	}

	svc, err := NewService(ServiceParams{
		Logger:       logg,
		Dependencies: map[string]pinger{"database": dbClient},
		Runner:       runner,
	})
	if err != nil {
		proc.Fatal(ctx, "worker misconfigured", err)
	}

	logg.Info(ctx, "deliverable worker running")
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fatal(ctx, "deliverable worker stopped", err)
	}
	_ = proc.Shutdown(context.WithoutCancel(ctx))
	logg.Info(ctx, "deliverable worker stopped")
}
