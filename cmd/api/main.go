package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/medimarthq/settlement-backend/api/controllers"
	"github.com/medimarthq/settlement-backend/api/routes"
	"github.com/medimarthq/settlement-backend/internal/adjustments"
	"github.com/medimarthq/settlement-backend/internal/orders"
	"github.com/medimarthq/settlement-backend/internal/payments"
	"github.com/medimarthq/settlement-backend/internal/points"
	"github.com/medimarthq/settlement-backend/internal/refunds"
	"github.com/medimarthq/settlement-backend/pkg/config"
	"github.com/medimarthq/settlement-backend/pkg/db"
	"github.com/medimarthq/settlement-backend/pkg/gateway"
	"github.com/medimarthq/settlement-backend/pkg/logger"
	"github.com/medimarthq/settlement-backend/pkg/metrics"
	"github.com/medimarthq/settlement-backend/pkg/migrate"
	"github.com/medimarthq/settlement-backend/pkg/outbox"
	"github.com/medimarthq/settlement-backend/pkg/redis"
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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gw, err := gateway.NewSquareGateway(context.Background(), cfg.Gateway, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)

	paymentsService, err := payments.NewService(payments.NewRepository(dbClient.DB()), dbClient, outboxService, cfg.Settlement, settlementMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	adjustmentsService, err := adjustments.NewService(adjustments.NewRepository(dbClient.DB()), dbClient, outboxService, cfg.Settlement)
	if err != nil {
		logg.Error(context.Background(), "failed to create adjustments service", err)
		os.Exit(1)
	}

	pointsService, err := points.NewService(points.NewRepository(dbClient.DB()), dbClient, outboxService, cfg.Settlement)
	if err != nil {
		logg.Error(context.Background(), "failed to create points service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.NewRepository(dbClient.DB()), dbClient, outboxService, paymentsService, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	refundsService, err := refunds.NewService(
		refunds.NewRepository(dbClient.DB()),
		dbClient,
		outboxService,
		gw,
		paymentsService,
		adjustmentsService,
		pointsService,
		nil,
		cfg.Settlement,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create refunds service", err)
		os.Exit(1)
	}

	readiness := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
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
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			readiness,
			redisClient,
			paymentsService,
			ordersService,
			pointsService,
			refundsService,
			adjustmentsService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
