package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calebreyes-ai/lumina-backend/api/controllers"
	webhookcontrollers "github.com/calebreyes-ai/lumina-backend/api/controllers/webhooks"
	"github.com/calebreyes-ai/lumina-backend/api/middleware"
	"github.com/calebreyes-ai/lumina-backend/pkg/config"
	"github.com/calebreyes-ai/lumina-backend/pkg/logger"
	"github.com/calebreyes-ai/lumina-backend/pkg/metrics"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config             *config.Config
	Logger             *logger.Logger
	DBPinger           controllers.Pinger
	CachePinger        controllers.Pinger
	WebhookService     webhookcontrollers.RevenueCatWebhookService
	SignatureVerifier  webhookcontrollers.SignatureVerifier
	WebhookGuard       webhookcontrollers.WebhookGuard
	PurchaseService    controllers.PurchaseService
	PermissionsService controllers.PermissionsService
	EntitlementID      string
	Metrics            *metrics.EntitlementMetrics
	MetricsHandler     http.Handler
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.DBPinger, deps.CachePinger, logg))
	})

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/revenuecat", webhookcontrollers.RevenueCatWebhook(
			deps.WebhookService,
			deps.SignatureVerifier,
			deps.WebhookGuard,
			deps.Metrics,
			logg,
		))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Post("/purchases/validate", controllers.ValidatePurchase(deps.PurchaseService, deps.Metrics, logg))
		r.Get("/me/permissions", controllers.MyPermissions(deps.PermissionsService, deps.EntitlementID, logg))
	})

	return r
}
