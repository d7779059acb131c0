package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/calebreyes-ai/lumina-backend/api/routes"
	"github.com/calebreyes-ai/lumina-backend/internal/analytics"
	"github.com/calebreyes-ai/lumina-backend/internal/permissions"
	"github.com/calebreyes-ai/lumina-backend/internal/purchases"
	rcwebhook "github.com/calebreyes-ai/lumina-backend/internal/webhooks/revenuecat"
	"github.com/calebreyes-ai/lumina-backend/pkg/config"
	"github.com/calebreyes-ai/lumina-backend/pkg/db"
	"github.com/calebreyes-ai/lumina-backend/pkg/logger"
	"github.com/calebreyes-ai/lumina-backend/pkg/metrics"
	"github.com/calebreyes-ai/lumina-backend/pkg/migrate"
	"github.com/calebreyes-ai/lumina-backend/pkg/pubsub"
	"github.com/calebreyes-ai/lumina-backend/pkg/redis"
	"github.com/calebreyes-ai/lumina-backend/pkg/revenuecat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	rcClient, err := revenuecat.NewClient(context.Background(), cfg.RevenueCat, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create revenuecat client", err)
		os.Exit(1)
	}

	var analyticsPublisher analytics.Publisher = analytics.Noop{}
	if cfg.GCP.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create pubsub client", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		analyticsPublisher = analytics.NewPubSubPublisher(pubsubClient.AnalyticsPublisher(), logg)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	entitlementMetrics := metrics.NewEntitlementMetrics(registry)

	permissionsRepo := permissions.NewRepository(dbClient.DB())

	permissionsService, err := permissions.NewService(permissionsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create permissions service", err)
		os.Exit(1)
	}

	webhookService, err := rcwebhook.NewService(rcwebhook.ServiceParams{
		PermissionsRepo: permissionsRepo,
		EntitlementID:   rcClient.EntitlementID(),
		Analytics:       analyticsPublisher,
		Logger:          logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := rcwebhook.NewIdempotencyGuard(redisClient, cfg.Webhooks.IdempotencyTTL, "revenuecat-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency guard", err)
		os.Exit(1)
	}

	purchaseService, err := purchases.NewService(purchases.ServiceParams{
		PermissionsRepo: permissionsRepo,
		Validator:       rcClient,
		Analytics:       analyticsPublisher,
		Logger:          logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create purchase service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(routes.Deps{
			Config:             cfg,
			Logger:             logg,
			DBPinger:           dbClient,
			CachePinger:        redisClient,
			WebhookService:     webhookService,
			SignatureVerifier:  rcClient,
			WebhookGuard:       webhookGuard,
			PurchaseService:    purchaseService,
			PermissionsService: permissionsService,
			EntitlementID:      rcClient.EntitlementID(),
			Metrics:            entitlementMetrics,
			MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
