package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lucky7games/ledger/internal/api/handler"
	"github.com/lucky7games/ledger/internal/api/middleware"
	"github.com/lucky7games/ledger/internal/api/spec"
	"github.com/lucky7games/ledger/internal/config"
	"github.com/lucky7games/ledger/internal/repository"
	"github.com/lucky7games/ledger/internal/service"
	"github.com/lucky7games/ledger/internal/transfer"
)

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	redis     redis.Cmdable
	wallets   *service.WalletService
	rates     *service.RateService
	processor *transfer.Processor
	queries   *repository.Queries
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	redisClient redis.Cmdable,
	wallets *service.WalletService,
	rates *service.RateService,
	processor *transfer.Processor,
	queries *repository.Queries,
) *Router {
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		redis:     redisClient,
		wallets:   wallets,
		rates:     rates,
		processor: processor,
		queries:   queries,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	rateHandler := handler.NewRateHandler(api.rates)
	walletHandler := handler.NewWalletHandler(api.wallets)
	transferHandler := handler.NewTransferHandler(api.processor, api.queries)

	r.Get("/healthz/live", healthHandler.Live)
	r.Get("/healthz/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Get("/v1/rates", rateHandler.ListRates)
		r.Get("/v1/rates/{code}", rateHandler.GetRate)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/v1/users/{userID}/balances", walletHandler.GetBalances)
		r.Get("/v1/users/{userID}/statement", walletHandler.GetStatement)
		r.Post("/v1/transfers", transferHandler.Create)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Put("/v1/rates/{code}", rateHandler.SetRate)
			r.Post("/v1/wallets/users", walletHandler.CreateUserWallet)
			r.Post("/v1/wallets/platform", walletHandler.CreatePlatformWallet)
			r.Post("/v1/wallets/platform/{name}/accounts", walletHandler.AddPlatformAccount)
			r.Get("/v1/entries/{id}", transferHandler.GetEntry)
		})
	})

	return r
}
