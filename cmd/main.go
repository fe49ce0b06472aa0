/**
 * @description
 * This is the main entry point for the ad generation backend. It loads
 * configuration, connects to PostgreSQL and applies migrations, wires the
 * optional infrastructure (RabbitMQ, Redis, Stripe, the render workflow), then
 * serves HTTP and runs the stale job sweep until it receives a shutdown signal.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Loads a local .env file for development.
 * - github.com/redis/go-redis/v9: Backs the generation rate limiter.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq, pkg/renderclient, pkg/stripeclient: External integrations.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ZrianRashid/ai-ugc-generator/internal/api"
	"github.com/ZrianRashid/ai-ugc-generator/internal/app"
	"github.com/ZrianRashid/ai-ugc-generator/internal/config"
	"github.com/ZrianRashid/ai-ugc-generator/internal/store"
	"github.com/ZrianRashid/ai-ugc-generator/pkg/rabbitmq"
	"github.com/ZrianRashid/ai-ugc-generator/pkg/renderclient"
	"github.com/ZrianRashid/ai-ugc-generator/pkg/stripeclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env file", "error", err)
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Error("DATABASE_URL must be configured")
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.SupabaseJWTSecret) == "" {
		logger.Warn("SUPABASE_JWT_SECRET is not set; authenticated routes will reject every request")
	}

	ctx := context.Background()

	if cfg.RunMigrations {
		if err := store.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			logger.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to stay compatible with transaction poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{}
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.EventExchange)
		if err != nil {
			logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		} else {
			publisher = producer
			logger.Info("rabbitmq producer connected", "exchange", cfg.EventExchange)
		}
	}
	defer publisher.Close()

	var (
		limiter       app.RateLimiter
		memoryLimiter *app.MemoryRateLimiter
	)
	if cfg.GenerateRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) != "" {
			redisClient, err := connectRedis(cfg.RedisURL)
			if err != nil {
				logger.Warn("redis unavailable; falling back to in-process rate limiting", "error", err)
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				logger.Info("redis connected")
			}
		}
		if limiter == nil {
			memoryLimiter = app.NewMemoryRateLimiter()
			limiter = memoryLimiter
		}
	}

	var (
		billing  app.BillingProvider
		checkout app.CheckoutProvider
	)
	if strings.TrimSpace(cfg.StripeSecretKey) != "" {
		stripeClient := stripeclient.NewClient(cfg.StripeSecretKey)
		billing = stripeClient
		checkout = stripeClient
	} else {
		logger.Warn("STRIPE_SECRET_KEY is not set; checkout and billing re-fetch disabled")
	}

	var render app.RenderTrigger
	if strings.TrimSpace(cfg.RenderWebhookURL) != "" {
		render = renderclient.NewClient(cfg.RenderWebhookURL, cfg.RenderCallbackSecret, cfg.RenderTriggerTimeout)
	} else {
		logger.Warn("RENDER_WEBHOOK_URL is not set; generation jobs will stay pending")
	}

	repository := store.NewPostgresRepository(dbpool)
	plans := app.NewPlanResolver(app.PriceTable{
		Pro:       cfg.StripePricePro,
		Unlimited: cfg.StripePriceUnlimited,
		PAYG:      cfg.StripePricePAYG,
	}, cfg.UnknownPricePolicy == config.UnknownPriceReject)

	ledger := app.NewLedgerService(repository, logger)
	registry := app.NewSubscriptionRegistry(repository, plans, logger)
	credits := app.NewCreditPolicy(cfg.CreditDebitPolicy, ledger, registry, logger)
	jobs := app.NewJobTracker(repository, cfg.RenderCallbackSecret, credits, publisher, logger)
	reconciler := app.NewReconciler(repository, ledger, registry, plans, billing, publisher, app.ReconcilerConfig{
		WebhookSecret:  cfg.StripeWebhookSecret,
		MonthlyCredits: cfg.SubscriptionMonthlyCredits,
	}, logger)
	gateway := app.NewGateway(repository, ledger, registry, jobs, credits, plans, render, checkout, limiter, app.GatewayConfig{
		RenderTimeout:      cfg.RenderTriggerTimeout,
		RateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
		AppURL:             cfg.AppURL,
	}, logger)
	logger.Info("credit debit policy", "policy", credits.Mode())

	scheduler := app.NewScheduler(jobs, cfg.StaleJobSweepSchedule, cfg.StaleJobTimeout, logger)
	if memoryLimiter != nil {
		scheduler.SetLimiterPruner(memoryLimiter)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(gateway, jobs, reconciler, logger)
	router := api.NewRouter(handler, gateway, api.RouterConfig{
		JWTSecret:      cfg.SupabaseJWTSecret,
		AllowedOrigins: cfg.AllowedOrigins(),
	}, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	<-scheduler.Stop().Done()
	if err := gateway.Wait(shutdownCtx); err != nil {
		logger.Warn("render triggers still in flight at shutdown", "error", err)
	}
	logger.Info("shutdown complete")
}

func connectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
