package main

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"ainopay/internal/amqp"
	"ainopay/internal/auth"
	"ainopay/internal/cache"
	"ainopay/internal/cli"
	"ainopay/internal/core"
	apphttp "ainopay/internal/http"
	"ainopay/internal/log"
	"ainopay/internal/mail"
	"ainopay/internal/middleware/ratelimit"
	"ainopay/internal/services"
)

const (
	shutdownTimeout   = 30 * time.Second
	dashboardCacheTTL = 5 * time.Minute
	dashboardCacheMax = 1000
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	be := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Failed to close store", log.FieldError, err)
		}
	}()
	store := be.Store

	checks := map[string]apphttp.Pinger{"store": store}

	// Dashboard aggregates go to Redis when configured so every replica sees
	// the same invalidations; otherwise an in-process LRU is enough.
	var (
		statsCache cache.GroupCache[core.DashboardStats]
		chartCache cache.GroupCache[[]core.MonthlyStats]
	)
	cacheManager := cache.NewManager(logger)
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("Failed to connect to Redis", log.FieldError, err)
			os.Exit(1)
		}
		defer rdb.Close()
		statsCache = cache.NewRedisCache[core.DashboardStats](rdb, "ainopay:dashboard:stats", dashboardCacheTTL)
		chartCache = cache.NewRedisCache[[]core.MonthlyStats](rdb, "ainopay:dashboard:chart", dashboardCacheTTL)
		checks["redis"] = redisPinger(rdb)
		logger.Info("Dashboard cache backed by Redis")
	} else {
		stats := cache.NewLocalGroupCache[core.DashboardStats](dashboardCacheMax, dashboardCacheTTL)
		charts := cache.NewLocalGroupCache[[]core.MonthlyStats](dashboardCacheMax, dashboardCacheTTL)
		cacheManager.Register(stats)
		cacheManager.Register(charts)
		cacheManager.StartCleanup(time.Minute)
		statsCache, chartCache = stats, charts
	}
	defer cacheManager.Stop()

	// Keep events a nil interface when AMQP is off; the services check for nil.
	var events services.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer client.Close()
		events = client
		logger.Info("AMQP publisher ready", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("AMQP disabled - payment events are not published")
	}

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		logger.Error("Failed to initialize token manager", log.FieldError, err)
		os.Exit(1)
	}

	dashboard := services.NewDashboardService(store, statsCache, chartCache, logger)
	svc := apphttp.Services{
		Auth: services.NewAuthService(store, store, tokens, mail.NewLogSender(logger), events,
			services.AuthConfig{
				RefreshTTL:  cfg.RefreshTokenTTL,
				ResetTTL:    cfg.PasswordResetTTL,
				FrontendURL: cfg.FrontendURL,
			}, logger),
		Payments:  services.NewPaymentService(store, store, events, dashboard, logger),
		Lookups:   services.NewLookupService(store),
		Dashboard: dashboard,
		Tokens:    tokens,
	}

	janitor := services.NewTokenJanitor(store, services.DefaultJanitorInterval, logger)
	if err := janitor.Start(ctx); err != nil {
		logger.Error("Failed to start token janitor", log.FieldError, err)
		os.Exit(1)
	}

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit: ratelimit.Config{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		Checks: checks,
	}, logger)

	logger.Info("Starting ainopay server", "port", cfg.Port, "backend", cfg.DataBackend)

	runErr := srv.Run(ctx, shutdownTimeout)
	if runErr != nil {
		logger.Error("Server error", log.FieldError, runErr, "port", cfg.Port)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := janitor.Stop(stopCtx); err != nil {
		logger.Warn("Token janitor did not stop cleanly", log.FieldError, err)
	}
	if runErr != nil {
		cancel()
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func redisPinger(rdb *redis.Client) apphttp.PingFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
