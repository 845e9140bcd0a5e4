package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/baltauto/loyalty-backend/api/controllers"
	"github.com/baltauto/loyalty-backend/api/middleware"
	"github.com/baltauto/loyalty-backend/internal/accounts"
	"github.com/baltauto/loyalty-backend/internal/redemption"
	"github.com/baltauto/loyalty-backend/pkg/config"
	"github.com/baltauto/loyalty-backend/pkg/db"
	"github.com/baltauto/loyalty-backend/pkg/logger"
	"github.com/baltauto/loyalty-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	accountsService accounts.Service,
	redemptionService redemption.Service,
	agentResolver controllers.AgentResolver,
	purchaseFetcher controllers.PurchaseFetcher,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/link", controllers.AccountLink(accountsService, agentResolver, logg))
			r.Route("/{agentID}", func(r chi.Router) {
				r.Get("/balance", controllers.AccountBalance(accountsService, logg))
				r.Get("/tier", controllers.AccountTier(accountsService, logg))
				r.Get("/transactions", controllers.AccountTransactions(accountsService, logg))
				r.Post("/verify", controllers.AccountVerify(accountsService, logg))
				r.Post("/redemptions", controllers.RedemptionCreate(redemptionService, purchaseFetcher, logg))
			})
		})
	})

	return r
}
