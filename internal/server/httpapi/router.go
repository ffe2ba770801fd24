// Package httpapi exposes the gatekeeper services over HTTP/JSON.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const requestTimeout = 30 * time.Second

// Services groups the orchestrators served by the router.
type Services struct {
	Authentication *services.AuthenticationService
	SecondFactor   *services.SecondFactorService
	Provisioning   *services.ProvisioningService
	Dashboards     *services.DashboardService
}

// Pinger reports credential store liveness for /health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type handler struct {
	authn      *services.AuthenticationService
	second     *services.SecondFactorService
	prov       *services.ProvisioningService
	dashboards *services.DashboardService
	db         Pinger
	logger     logging.Logger
}

// NewRouter builds the chi router.
//
// Routes:
//   - GET  /health, GET /metrics
//   - POST /api/login, POST /api/2fa/enroll
//   - POST /api/2fa/verify, GET /api/2fa/status, GET /api/verify-token (bearer)
//   - GET|PUT /api/dashboard (bearer, second factor done)
//   - POST /api/users, DELETE /api/users/{identifier} (bearer, second factor done, admin)
//
// A nil gatherer leaves /metrics unmounted.
func NewRouter(svc Services, db Pinger, gatherer prometheus.Gatherer, logger logging.Logger) http.Handler {
	h := &handler{
		authn:      svc.Authentication,
		second:     svc.SecondFactor,
		prov:       svc.Provisioning,
		dashboards: svc.Dashboards,
		db:         db,
		logger:     logger.With("module", "http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.health)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Post("/2fa/enroll", h.enroll)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)
			r.Post("/2fa/verify", h.verifySecondFactor)
			r.Get("/2fa/status", h.secondFactorStatus)
			r.Get("/verify-token", h.verifyToken)

			r.Group(func(r chi.Router) {
				r.Use(requireSecondFactor)
				r.Get("/dashboard", h.getDashboard)
				r.Put("/dashboard", h.saveDashboard)

				r.Group(func(r chi.Router) {
					r.Use(requireAdmin)
					r.Post("/users", h.createUser)
					r.Delete("/users/{identifier}", h.deleteUser)
				})
			})
		})
	})

	return r
}
