package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/fulfillment-engine/api/controllers"
	"github.com/angelmondragon/fulfillment-engine/api/routes"
	"github.com/angelmondragon/fulfillment-engine/internal/assets"
	"github.com/angelmondragon/fulfillment-engine/internal/checkout"
	"github.com/angelmondragon/fulfillment-engine/internal/deliverables"
	"github.com/angelmondragon/fulfillment-engine/internal/entitlements"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/internal/printjobs"
	"github.com/angelmondragon/fulfillment-engine/internal/properties"
	"github.com/angelmondragon/fulfillment-engine/internal/users"
	stripewebhook "github.com/angelmondragon/fulfillment-engine/internal/webhooks/stripe"
	pkgAuth "github.com/angelmondragon/fulfillment-engine/pkg/auth"
	"github.com/angelmondragon/fulfillment-engine/pkg/bootstrap"
	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/instance"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/metrics"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/redis"
	"github.com/angelmondragon/fulfillment-engine/pkg/storage"
	"github.com/angelmondragon/fulfillment-engine/pkg/storage/blob"
	"github.com/angelmondragon/fulfillment-engine/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	proc := bootstrap.Must(bootstrap.Start("api"))
	cfg, logg := proc.Config, proc.Logger

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx, stop := proc.SignalContext(map[string]any{"addr": addr, "instance": instance.GetID()})
	defer stop()

	dbClient, err := proc.OpenDB(ctx)
	if err != nil {
		proc.Fatal(ctx, "database unavailable", err)
	}
	redisClient, err := proc.OpenRedis(ctx)
	if err != nil {
		proc.Fatal(ctx, "redis unavailable", err)
	}
	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		proc.Fatal(ctx, "stripe misconfigured", err)
	}
	store, err := blob.Open(ctx, cfg, logg)
	if err != nil {
		proc.Fatal(ctx, "artifact store unavailable", err)
	}

	deps, err := buildDeps(cfg, logg, dbClient, redisClient, stripeClient, store)
	if err != nil {
		proc.Fatal(ctx, "services misconfigured", err)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	logg.Info(ctx, "api server listening")

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			proc.Fatal(ctx, "api server stopped", err)
		}
	case <-ctx.Done():
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(drainCtx); err != nil {
			logg.Error(drainCtx, "api server drain incomplete", err)
		}
	}
	_ = proc.Shutdown(context.WithoutCancel(ctx))
	logg.Info(ctx, "api server stopped")
}

func buildDeps(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	stripeClient *stripe.Client,
	store storage.Store,
) (routes.Deps, error) {
	conn := dbClient.DB()
	fulfillmentMetrics := metrics.NewFulfillmentMetrics(prometheus.DefaultRegisterer)
	outboxRepo := outbox.NewRepository(conn)
	outboxService := outbox.NewService(outboxRepo, logg)
	orderRepo := orders.NewRepository(conn)
	propertyRepo := properties.NewRepository(conn)
	checker := entitlements.NewChecker(conn)

	assetService, err := assets.NewService(assets.ServiceParams{
		DB:           dbClient,
		Repo:         assets.NewRepository(conn),
		Properties:   propertyRepo,
		Entitlements: checker,
		Outbox:       outboxService,
		Logger:       logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	printService, err := printjobs.NewService(printjobs.ServiceParams{
		Config:  cfg.PrintJobs,
		DB:      dbClient,
		Repo:    printjobs.NewRepository(conn),
		Orders:  orderRepo,
		Store:   store,
		Outbox:  outboxService,
		Metrics: fulfillmentMetrics,
		Logger:  logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	deliverableService, err := deliverables.NewService(deliverables.ServiceParams{
		Config:       cfg.Deliverables,
		DB:           dbClient,
		Repo:         deliverables.NewRepository(conn),
		Properties:   propertyRepo,
		Entitlements: checker,
		Logger:       logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	attempts := checkout.NewRepository(conn)
	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Config:     cfg.Checkout,
		DB:         dbClient,
		Attempts:   attempts,
		Orders:     orderRepo,
		Properties: propertyRepo,
		Provider:   stripeClient,
		Logger:     logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Config:        cfg.Events,
		DB:            dbClient,
		Events:        stripewebhook.NewEventStore(conn),
		Verifier:      stripeClient,
		Orders:        orderRepo,
		Attempts:      attempts,
		Users:         users.NewRepository(conn),
		Assets:        assetService,
		PrintJobs:     printService,
		Deliverables:  deliverableService,
		Outbox:        outboxService,
		Subscriptions: stripeClient,
		Metrics:       fulfillmentMetrics,
		Logger:        logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	deadLetters, err := outbox.NewDeadLetters(outbox.DeadLetterParams{
		DB:     dbClient,
		Events: outboxRepo,
		DLQ:    outbox.NewDLQRepository(conn),
		Logger: logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	tokens, err := pkgAuth.NewTokens(cfg.JWT)
	if err != nil {
		return routes.Deps{}, err
	}

	return routes.Deps{
		Config: cfg,
		Logger: logg,
		Redis:  redisClient,
		Tokens: tokens,
		Pingers: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Gatherer:     prometheus.DefaultGatherer,
		Webhooks:     webhookService,
		Checkout:     checkoutService,
		Assets:       assetService,
		Deliverables: deliverableService,
		PrintJobs:    printService,
		DeadLetters:  deadLetters,
	}, nil
}
