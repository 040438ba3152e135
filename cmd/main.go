package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbtc-bridge/oft_service/internal/api/routes"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/config"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/di"
	"github.com/mbtc-bridge/oft_service/internal/workers/dispatch_reconciler"
	"github.com/mbtc-bridge/oft_service/internal/workers/loopback_delivery"
	"github.com/mbtc-bridge/oft_service/internal/workers/ratelimit_metrics"
	"github.com/mbtc-bridge/oft_service/pkg/auth"
	"github.com/mbtc-bridge/oft_service/pkg/graceful"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
	"github.com/mbtc-bridge/oft_service/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// `oft token <address>` prints a bearer token for local testing
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := printToken(cfg, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracingConfig, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Build dependency injection container
	container, err := di.NewContainer(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	router := routes.SetupRoutes(container)

	// Rate limit gauges
	metricsWorker := ratelimit_metrics.NewWorker(
		container.RateLimitService,
		container.DB,
		cfg.Workers.RateLimitMetricsSchedule,
		log.Zap(),
	)
	if err := metricsWorker.Start(); err != nil {
		log.Fatal("Failed to start rate limit metrics worker", "error", err)
	}

	// Loopback delivery only runs when the in-process channel is used
	var deliveryWorker *loopback_delivery.Worker
	if container.Network != nil {
		composes := []loopback_delivery.ComposeSource{container.ComposeQueue}
		for _, m := range container.Mirrors {
			composes = append(composes, m.Composer)
		}
		deliveryWorker = loopback_delivery.NewWorker(
			container.Network,
			composes,
			cfg.Workers.LoopbackDeliverySchedule,
			log.Zap(),
		)
		if err := deliveryWorker.Start(); err != nil {
			log.Fatal("Failed to start loopback delivery worker", "error", err)
		}
	}

	// Unknown dispatches only arise on the relay channel
	var reconciler *dispatch_reconciler.Worker
	if container.Network == nil {
		reconciler = dispatch_reconciler.NewWorker(
			container.OFTService,
			cfg.Workers.DispatchReconcileSchedule,
			log.Zap(),
		)
		if err := reconciler.Start(); err != nil {
			log.Fatal("Failed to start dispatch reconciler", "error", err)
		}
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdown := graceful.NewShutdownManager(server, log)
	shutdown.Register("rate-limit-metrics", func(context.Context) error {
		metricsWorker.Stop()
		return nil
	})
	if deliveryWorker != nil {
		shutdown.Register("loopback-delivery", func(context.Context) error {
			deliveryWorker.Stop()
			return nil
		})
	}
	if reconciler != nil {
		shutdown.Register("dispatch-reconciler", func(context.Context) error {
			reconciler.Stop()
			return nil
		})
	}
	shutdown.Register("container", func(context.Context) error { return container.Close() })
	shutdown.Register("tracing", tracingShutdown)

	log.Info("Starting OFT bridge",
		"local_eid", cfg.Bridge.LocalEid,
		"address", cfg.Bridge.Address,
		"mode", cfg.Bridge.Mode,
		"environment", cfg.Environment)

	if err := shutdown.Run(context.Background()); err != nil {
		log.Fatal("Server stopped with error", "error", err)
	}
}

func printToken(cfg *config.Config, args []string) error {
	if len(args) != 1 || !common.IsHexAddress(args[0]) {
		return fmt.Errorf("usage: oft token <address>")
	}
	ttl := time.Duration(cfg.JWT.AccessTTL) * time.Second
	token, expiresAt, err := auth.GenerateToken(common.HexToAddress(args[0]), cfg.JWT.Secret, cfg.JWT.Issuer, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
