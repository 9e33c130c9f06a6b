package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecobricks/rewards-backend/api/controllers"
	"github.com/ecobricks/rewards-backend/api/middleware"
	"github.com/ecobricks/rewards-backend/internal/donations"
	"github.com/ecobricks/rewards-backend/internal/ledger"
	"github.com/ecobricks/rewards-backend/internal/rewardconfig"
	"github.com/ecobricks/rewards-backend/internal/vouchers"
	"github.com/ecobricks/rewards-backend/pkg/config"
	"github.com/ecobricks/rewards-backend/pkg/enums"
	"github.com/ecobricks/rewards-backend/pkg/logger"
	"github.com/ecobricks/rewards-backend/pkg/redis"
)

// Services groups the domain services the API exposes.
type Services struct {
	Config    rewardconfig.Service
	Ledger    ledger.Service
	Vouchers  vouchers.Service
	Donations donations.Service
}

// NewRouter builds the HTTP surface. redisPinger may be nil when the
// idempotency store is in-memory.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbPinger controllers.Pinger,
	redisPinger controllers.Pinger,
	idempotencyStore redis.IdempotencyStore,
	gatherer prometheus.Gatherer,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbPinger, redisPinger))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/rewards", func(r chi.Router) {
		r.Get("/config", controllers.RewardsRate(svc.Config))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(idempotencyStore, logg))

			r.Get("/balance", controllers.RewardsBalance(svc.Ledger, logg))
			r.Get("/history", controllers.RewardsHistory(svc.Ledger, logg))
			r.Get("/summary", controllers.RewardsSummary(svc.Ledger, logg))

			r.Get("/vouchers", controllers.VoucherList(svc.Vouchers, logg))
			r.Post("/vouchers/{voucherId}/redeem", controllers.VoucherRedeem(svc.Vouchers, logg))
			r.Get("/issuances", controllers.VoucherIssuances(svc.Vouchers, logg))

			r.Get("/donations", controllers.DonationList(svc.Donations, logg))
			r.Post("/donations", controllers.DonationSubmit(svc.Donations, logg))
		})
	})

	r.Route("/api/admin/v1/rewards", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.MemberRoleAdmin, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Get("/config", controllers.AdminRewardsConfig(svc.Config, logg))
		r.Put("/config", controllers.AdminRewardsConfigUpdate(svc.Config, logg))

		r.Route("/vouchers", func(r chi.Router) {
			r.Get("/", controllers.VoucherList(svc.Vouchers, logg))
			r.Post("/", controllers.AdminVoucherCreate(svc.Vouchers, logg))
			r.Patch("/{voucherId}", controllers.AdminVoucherUpdate(svc.Vouchers, logg))
			r.Delete("/{voucherId}", controllers.AdminVoucherDelete(svc.Vouchers, logg))
		})

		r.Route("/donations", func(r chi.Router) {
			r.Get("/", controllers.AdminDonationList(svc.Donations, logg))
			r.Post("/{donationId}/approve", controllers.AdminDonationApprove(svc.Donations, logg))
			r.Post("/{donationId}/reject", controllers.AdminDonationReject(svc.Donations, logg))
		})

		r.Post("/credits", controllers.AdminDirectCredit(svc.Ledger, logg))
	})

	return r
}
