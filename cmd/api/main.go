package main

import (
	"context"
	"net/http"
	"os"

	"github.com/baltauto/loyalty-backend/api/routes"
	"github.com/baltauto/loyalty-backend/internal/accounts"
	"github.com/baltauto/loyalty-backend/internal/ledger"
	"github.com/baltauto/loyalty-backend/internal/notify"
	"github.com/baltauto/loyalty-backend/internal/redemption"
	"github.com/baltauto/loyalty-backend/internal/tiers"
	"github.com/baltauto/loyalty-backend/pkg/config"
	"github.com/baltauto/loyalty-backend/pkg/db"
	"github.com/baltauto/loyalty-backend/pkg/logger"
	"github.com/baltauto/loyalty-backend/pkg/migrate"
	"github.com/baltauto/loyalty-backend/pkg/moysklad"
	"github.com/baltauto/loyalty-backend/pkg/redis"
	"github.com/joho/godotenv"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	accountsService, err := accounts.NewService(ledgerRepo, dbClient, tierTable, notifier, cfg.Loyalty.SignupBonus)
	if err != nil {
		logg.Error(context.Background(), "failed to create accounts service", err)
		os.Exit(1)
	}

	redemptionService, err := redemption.NewService(ledgerRepo, dbClient, tierTable, erpClient, notifier)
	if err != nil {
		logg.Error(context.Background(), "failed to create redemption service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, accountsService, redemptionService, erpClient, erpClient),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
