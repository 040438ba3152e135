package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbtc-bridge/oft_service/internal/api/handlers"
	"github.com/mbtc-bridge/oft_service/internal/api/middleware"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/database"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/di"
	"github.com/mbtc-bridge/oft_service/pkg/idempotency"
	"github.com/mbtc-bridge/oft_service/pkg/tracing"
)

const requestsPerMinute = 600

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	cfg := container.Config
	log := container.Logger

	router := gin.New()

	// Global middleware - order matters
	router.Use(tracing.HTTPMiddleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(requestsPerMinute))
	router.Use(middleware.SecurityHeaders())

	bridgeHandlers := handlers.NewBridgeHandlers(
		container.OFTService,
		container.RateLimitService,
		container.PeerService,
		container.TokenLedger(),
		container.Approver(),
		cfg.Bridge.DefaultReceiveGas,
		log,
	)
	adminHandlers := handlers.NewAdminHandlers(
		container.AccessService,
		container.RateLimitService,
		container.PeerService,
		container.OFTService,
		container.Minter(),
		log,
	)
	relayHandlers := handlers.NewRelayHandlers(container.OFTService, log)
	healthHandler := handlers.NewHealthHandler(healthChecks(container), log.Zap(), "1.0.0")

	// Health checks (no auth required)
	router.GET("/health", healthHandler.Liveness)
	router.GET("/health/liveness", healthHandler.Liveness)
	router.GET("/health/readiness", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/bridge", bridgeHandlers.Info)
		v1.POST("/quotes/send", bridgeHandlers.QuoteSend)
		v1.POST("/quotes/oft", bridgeHandlers.QuoteOFT)
		v1.GET("/rate-limits", bridgeHandlers.RateLimits)
		v1.GET("/rate-limits/:eid", bridgeHandlers.AmountCanBeSent)
		v1.GET("/balances/:address", bridgeHandlers.Balance)
		v1.GET("/transfers", bridgeHandlers.ListTransfers)
		v1.GET("/transfers/:id", bridgeHandlers.GetTransfer)
		v1.GET("/messages/:guid", bridgeHandlers.MessageStatus)
		v1.GET("/roles/:role", adminHandlers.Members)
		v1.GET("/pause", adminHandlers.PauseStatus)

		authed := v1.Group("")
		authed.Use(middleware.Authentication(cfg.JWT, log))
		{
			authed.POST("/transfers", idempotency.Middleware(idempotencyStore(container), middleware.AccountKey, log.Zap()), bridgeHandlers.Send)
			authed.POST("/token/approve", bridgeHandlers.Approve)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.Authentication(cfg.JWT, log))
		{
			admin.PUT("/rate-limits", adminHandlers.SetRateLimits)
			admin.POST("/roles/grant", adminHandlers.GrantRole)
			admin.POST("/roles/revoke", adminHandlers.RevokeRole)
			admin.POST("/roles/renounce", adminHandlers.RenounceRole)
			admin.POST("/pause/:class", adminHandlers.Pause)
			admin.POST("/unpause/:class", adminHandlers.Unpause)
			admin.PUT("/peers/:eid", adminHandlers.SetPeer)
			admin.PUT("/enforced-options", adminHandlers.SetEnforcedOptions)
			admin.POST("/mint", adminHandlers.Mint)
		}

		relay := v1.Group("/relay")
		relay.Use(middleware.RelayAuth(cfg.Relay.APIKey))
		{
			relay.POST("/packets", relayHandlers.Deliver)
		}
	}

	return router
}

func healthChecks(container *di.Container) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{}
	if container.DB != nil {
		checks["database"] = func(ctx context.Context) error {
			return database.HealthCheck(ctx, container.DB)
		}
	}
	if container.Redis != nil {
		checks["redis"] = container.Redis.Ping
	}
	return checks
}

func idempotencyStore(container *di.Container) idempotency.Store {
	if container.Redis != nil {
		return idempotency.NewRedisStore(container.Redis, "oft:idempotency:")
	}
	return idempotency.NewMemoryStore()
}
