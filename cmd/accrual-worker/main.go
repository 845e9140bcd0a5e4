package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baltauto/loyalty-backend/internal/accrual"
	"github.com/baltauto/loyalty-backend/internal/ledger"
	"github.com/baltauto/loyalty-backend/internal/notify"
	"github.com/baltauto/loyalty-backend/internal/poller"
	"github.com/baltauto/loyalty-backend/internal/tiers"
	"github.com/baltauto/loyalty-backend/pkg/config"
	"github.com/baltauto/loyalty-backend/pkg/db"
	"github.com/baltauto/loyalty-backend/pkg/logger"
	"github.com/baltauto/loyalty-backend/pkg/metrics"
	"github.com/baltauto/loyalty-backend/pkg/migrate"
	"github.com/baltauto/loyalty-backend/pkg/moysklad"
	"github.com/baltauto/loyalty-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "accrual-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "accrual-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	erpClient, err := moysklad.NewClient(cfg.ERP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create erp client", err)
		os.Exit(1)
	}

	tierTable, err := tiers.Parse(cfg.Loyalty.TiersJSON)
	if err != nil {
		logg.Error(context.Background(), "failed to parse tier table", err)
		os.Exit(1)
	}

	notifier := notify.NewLogNotifier(logg)
	ledgerRepo := ledger.NewRepository(dbClient.DB())

	accrualService, err := accrual.NewService(ledgerRepo, dbClient, tierTable, notifier)
	if err != nil {
		logg.Error(context.Background(), "failed to create accrual service", err)
		os.Exit(1)
	}

	lock, err := poller.NewRedisLock(redisClient, redisClient.LockKey(cfg.Poller.LockKey), cfg.Poller.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create poller lock", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	accrualMetrics := metrics.NewAccrualMetrics(registry)

	pollerService, err := poller.NewService(poller.ServiceParams{
		Logger:     logg,
		Source:     erpClient,
		Processor:  accrualService,
		Lock:       lock,
		Metrics:    accrualMetrics,
		Interval:   cfg.Poller.Interval,
		BatchLimit: cfg.Poller.BatchLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create poller", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"interval":     cfg.Poller.Interval.String(),
		"batch_limit":  cfg.Poller.BatchLimit,
		"metrics_addr": cfg.Metrics.Addr,
	})
	logg.Info(ctx, "starting accrual worker")

	metricsServer := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "metrics server stopped unexpectedly", err)
		}
	}()
	defer func() {
		if err := metricsServer.Shutdown(context.Background()); err != nil {
			logg.Error(ctx, "error shutting down metrics server", err)
		}
	}()

	if err := pollerService.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "accrual worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "accrual worker shutting down gracefully")
}
