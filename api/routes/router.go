package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medimarthq/settlement-backend/api/controllers"
	"github.com/medimarthq/settlement-backend/api/middleware"
	"github.com/medimarthq/settlement-backend/internal/adjustments"
	"github.com/medimarthq/settlement-backend/internal/orders"
	"github.com/medimarthq/settlement-backend/internal/payments"
	"github.com/medimarthq/settlement-backend/internal/points"
	"github.com/medimarthq/settlement-backend/internal/refunds"
	pkgauth "github.com/medimarthq/settlement-backend/pkg/auth"
	"github.com/medimarthq/settlement-backend/pkg/config"
	"github.com/medimarthq/settlement-backend/pkg/logger"
	"github.com/medimarthq/settlement-backend/pkg/redis"
)

// NewRouter mounts the settlement API: customer-facing points and order
// endpoints under /api/v1 and the support/admin surface under /api/admin/v1.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness map[string]controllers.Pinger,
	redisClient *redis.Client,
	paymentsService payments.Service,
	ordersService orders.Service,
	pointsService points.Service,
	refundsService refunds.Service,
	adjustmentsService adjustments.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/v1/ping", controllers.PrivatePing())

		r.Route("/v1/customers/{customerId}/points", func(r chi.Router) {
			r.Get("/", controllers.PointsBalance(pointsService, logg))
			r.Get("/transactions", controllers.PointsTransactions(pointsService, logg))
			r.Post("/use", controllers.PointsUse(pointsService, logg))
		})

		r.Route("/v1/orders/{orderId}", func(r chi.Router) {
			r.Get("/", controllers.OrderDetail(ordersService, logg))
			r.Get("/history", controllers.OrderHistory(ordersService, logg))
			r.Get("/payments", controllers.PaymentsByOrder(paymentsService, logg))
			r.With(middleware.RequireRole(logg, pkgauth.RoleAdmin, pkgauth.RoleSupport)).
				Post("/vendors/{vendorId}/status", controllers.SetVendorStatus(ordersService, logg))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, pkgauth.RoleAdmin, pkgauth.RoleSupport))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/ping", controllers.AdminPing())

		r.Route("/v1/payments", func(r chi.Router) {
			r.Get("/report", controllers.AdminPaymentsReport(paymentsService, logg))
			r.Get("/{paymentId}", controllers.PaymentDetail(paymentsService, logg))
			r.Post("/{paymentId}/fail", controllers.AdminPaymentFail(paymentsService, logg))
		})

		r.Post("/v1/refunds", controllers.ProcessRefund(refundsService, logg))
		r.Route("/v1/reconciliation", func(r chi.Router) {
			r.Post("/tasks/{taskId}/replay", controllers.ReplayReconciliationTask(refundsService, logg))
			r.Get("/backlog", controllers.ReconciliationBacklog(refundsService, logg))
		})

		r.Post("/v1/customers/{customerId}/points/credit", controllers.AdminPointsCredit(pointsService, logg))

		r.With(middleware.RequireRole(logg, pkgauth.RoleAdmin)).
			Get("/v1/revenue/summary", controllers.AdminRevenueSummary(adjustmentsService, logg))
	})

	return r
}
