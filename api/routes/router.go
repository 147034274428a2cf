package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/fulfillment-engine/api/controllers"
	printjobcontrollers "github.com/angelmondragon/fulfillment-engine/api/controllers/printjobs"
	webhookcontrollers "github.com/angelmondragon/fulfillment-engine/api/controllers/webhooks"
	"github.com/angelmondragon/fulfillment-engine/api/middleware"
	"github.com/angelmondragon/fulfillment-engine/internal/assets"
	checkoutsvc "github.com/angelmondragon/fulfillment-engine/internal/checkout"
	"github.com/angelmondragon/fulfillment-engine/internal/deliverables"
	stripewebhook "github.com/angelmondragon/fulfillment-engine/internal/webhooks/stripe"
	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

// RedisStore is the subset of the Redis client the HTTP layer uses for
// idempotent replays and rate limiting.
type RedisStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Set(context.Context, string, any, time.Duration) error
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

type CheckoutService interface {
	CreateOrReuse(ctx context.Context, userID uuid.UUID, req checkoutsvc.Request) (*checkoutsvc.Result, error)
}

type AssetService interface {
	Resolve(ctx context.Context, code string) (*assets.Resolution, error)
	Assign(ctx context.Context, actorID, assetID uuid.UUID, targetID *uuid.UUID) (*models.ReusableAsset, error)
	History(ctx context.Context, actorID, assetID uuid.UUID, page pagination.Params) (*pagination.Page[models.AssetReassignmentHistory], error)
	ListOwned(ctx context.Context, ownerID uuid.UUID, page pagination.Params) (*pagination.Page[models.ReusableAsset], error)
}

type DeliverableService interface {
	Request(ctx context.Context, userID, propertyID uuid.UUID, kind enums.DeliverableKind) (*models.DeliverableJob, error)
	Status(ctx context.Context, userID, jobID uuid.UUID) (*deliverables.StatusView, error)
}

type PrintJobService interface {
	printjobcontrollers.Service
	ReconcilePrintFailed(ctx context.Context, orderID uuid.UUID) (*models.PrintJob, error)
}

type DeadLetterService interface {
	List(ctx context.Context, page pagination.Params) (*pagination.Page[models.OutboxDLQ], error)
	Replay(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
}

type WebhookService interface {
	Handle(ctx context.Context, payload []byte, signature string) (stripewebhook.Outcome, error)
}

// Deps carries everything the router wires. Nil pingers are skipped by the
// readiness probe; a nil Redis disables idempotent replay and rate limiting.
type Deps struct {
	Config       *config.Config
	Logger       *logger.Logger
	Redis        RedisStore
	Tokens       middleware.TokenVerifier
	Pingers      map[string]controllers.Pinger
	Gatherer     prometheus.Gatherer
	Webhooks     WebhookService
	Checkout     CheckoutService
	Assets       AssetService
	Deliverables DeliverableService
	PrintJobs    PrintJobService
	DeadLetters  DeadLetterService
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	idempotent := func(time.Duration) func(http.Handler) http.Handler { return passthrough }
	var rateStore interface {
		IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	}
	if d.Redis != nil {
		idempotent = func(ttl time.Duration) func(http.Handler) http.Handler {
			return middleware.Idempotency(d.Redis, ttl, logg)
		}
		rateStore = d.Redis
	}
	resolveLimit := middleware.RateLimit(middleware.NewRateLimitPolicy(
		"resolve", cfg.RateLimit.Window, cfg.RateLimit.ResolvePerIP, middleware.ClientIP), rateStore, logg)
	claimLimit := middleware.RateLimit(middleware.NewRateLimitPolicy(
		"claim", cfg.RateLimit.Window, cfg.RateLimit.ClaimPerWorker, middleware.WorkerSubject), rateStore, logg)

	browser := browserCORS(cfg.App.CORSAllowedOrigins)

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, d.Pingers))
	})

	r.With(resolveLimit).Get("/r/{code}", controllers.ResolveCode(d.Assets, logg))

	r.Post("/api/v1/webhooks/stripe", webhookcontrollers.StripeWebhook(d.Webhooks, logg))

	r.Route("/api/v1/print-jobs", func(r chi.Router) {
		r.Use(middleware.WorkerAuth(cfg.PrintJobs.WorkerToken, logg))
		r.With(claimLimit).Post("/claim", printjobcontrollers.Claim(d.PrintJobs, logg))
		r.Get("/{jobId}/artifact", printjobcontrollers.Artifact(d.PrintJobs, logg))
		r.Get("/{jobId}/metadata", printjobcontrollers.Metadata(d.PrintJobs, logg))
		r.Post("/{jobId}/downloaded", printjobcontrollers.Downloaded(d.PrintJobs, logg))
		r.Post("/{jobId}/printed", printjobcontrollers.Printed(d.PrintJobs, logg))
		r.Post("/{jobId}/failed", printjobcontrollers.Failed(d.PrintJobs, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(browser)
		r.Use(middleware.Auth(d.Tokens, logg))
		r.Post("/checkout", controllers.Checkout(d.Checkout, logg))
		r.Get("/assets", controllers.ListAssets(d.Assets, logg))
		r.Route("/assets/{assetId}", func(r chi.Router) {
			r.Get("/history", controllers.AssetHistory(d.Assets, logg))
			r.With(idempotent(middleware.IdempotencyTTL)).Post("/assign", controllers.AssetAssign(d.Assets, logg))
		})
		r.With(idempotent(middleware.IdempotencyTTL)).Post("/deliverables", controllers.DeliverableRequest(d.Deliverables, logg))
		r.Get("/deliverables/{jobId}", controllers.DeliverableStatus(d.Deliverables, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(browser)
		r.Use(middleware.Auth(d.Tokens, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
		r.With(idempotent(middleware.AdminIdempotencyTTL)).Post("/orders/{orderId}/reconcile-print", controllers.AdminReconcilePrint(d.PrintJobs, logg))
		r.Get("/outbox/dlq", controllers.AdminListDeadLetters(d.DeadLetters, logg))
		r.With(idempotent(middleware.AdminIdempotencyTTL)).Post("/outbox/dlq/{eventId}/replay", controllers.AdminReplayDeadLetter(d.DeadLetters, logg))
	})

	return r
}

func passthrough(next http.Handler) http.Handler { return next }

// browserCORS answers preflights ahead of auth for the configured web origins.
func browserCORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return passthrough
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
