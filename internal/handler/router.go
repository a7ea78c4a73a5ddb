package handler

import (
	"net/http"

	"github.com/boddenberg/bankbot-go/internal/auth"
	"github.com/boddenberg/bankbot-go/internal/infra/observability"
	"github.com/boddenberg/bankbot-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// RouterDeps bundles what the HTTP layer needs. Issuer and APIKeys may be
// nil, which leaves the matching routes unauthenticated.
type RouterDeps struct {
	Payouts *service.PayoutService
	Issuer  *auth.TokenIssuer
	APIKeys *auth.APIKeyChecker
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	svc, logger := deps.Payouts, deps.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/health", healthHandler())
	r.Get("/healthz", healthzHandler(svc))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- Payout intake ---
	r.Group(func(r chi.Router) {
		r.Use(APIKeyMiddleware(deps.APIKeys, logger))
		r.Post("/payout", submitPayoutHandler(svc, logger))
		r.Post("/{bank}_company_web/runPython", runPythonHandler(svc, logger))
	})

	// --- Worker queue ---
	r.Route("/jobs", func(r chi.Router) {
		r.Use(WorkerAuthMiddleware(deps.Issuer, logger))
		r.Get("/", listJobsHandler(svc, logger))
		r.Post("/next", nextJobHandler(svc, logger))
		r.Get("/{transactionId}", getJobHandler(svc, logger))
		r.Post("/{transactionId}/done", markJobDoneHandler(svc, logger))
		r.Post("/{transactionId}/fail", markJobFailedHandler(svc, logger))
	})

	r.With(WorkerAuthMiddleware(deps.Issuer, logger)).
		Post("/workers/{bank}/ping", pingWorkerHandler(svc, logger))

	return r
}
