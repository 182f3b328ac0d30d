package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/medimarthq/settlement-backend/internal/adjustments"
	"github.com/medimarthq/settlement-backend/internal/cron"
	"github.com/medimarthq/settlement-backend/internal/payments"
	"github.com/medimarthq/settlement-backend/internal/points"
	"github.com/medimarthq/settlement-backend/internal/refunds"
	"github.com/medimarthq/settlement-backend/pkg/bigquery"
	"github.com/medimarthq/settlement-backend/pkg/config"
	"github.com/medimarthq/settlement-backend/pkg/db"
	"github.com/medimarthq/settlement-backend/pkg/gateway"
	"github.com/medimarthq/settlement-backend/pkg/logger"
	"github.com/medimarthq/settlement-backend/pkg/metrics"
	"github.com/medimarthq/settlement-backend/pkg/migrate"
	"github.com/medimarthq/settlement-backend/pkg/outbox"
	"github.com/medimarthq/settlement-backend/pkg/redis"
)

const lockKeyFormat = "mm:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	bigqueryClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap bigquery", err)
		os.Exit(1)
	}
	defer func() {
		if err := bigqueryClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing bigquery", err)
		}
	}()

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
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

	pointsExpiryJob, err := cron.NewPointsExpiryJob(cron.PointsExpiryJobParams{
		Logger:  logg,
		Points:  pointsService,
		Metrics: settlementMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create points expiry job", err)
		os.Exit(1)
	}

	reconciliationJob, err := cron.NewReconciliationJob(cron.ReconciliationJobParams{
		Logger:  logg,
		Refunds: refundsService,
		Metrics: settlementMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	revenueExportJob, err := cron.NewRevenueExportJob(cron.RevenueExportJobParams{
		Logger:      logg,
		Adjustments: adjustmentsService,
		Warehouse:   bigqueryClient,
		Table:       cfg.BigQuery.RevenueSummaryTable,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create revenue export job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(pointsExpiryJob, reconciliationJob, retentionJob, revenueExportJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
