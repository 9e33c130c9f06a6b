package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/ecobricks/rewards-backend/internal/donations"
	"github.com/ecobricks/rewards-backend/internal/ledger"
	"github.com/ecobricks/rewards-backend/internal/rewardconfig"
	"github.com/ecobricks/rewards-backend/pkg/config"
	"github.com/ecobricks/rewards-backend/pkg/db"
	"github.com/ecobricks/rewards-backend/pkg/idempotency"
	"github.com/ecobricks/rewards-backend/pkg/instance"
	"github.com/ecobricks/rewards-backend/pkg/logger"
	"github.com/ecobricks/rewards-backend/pkg/metrics"
	"github.com/ecobricks/rewards-backend/pkg/pubsub"
	"github.com/ecobricks/rewards-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "instance": instance.GetID("worker-0")})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.Open(ctx, *cfg, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, psClient.Close()) }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rewardMetrics := metrics.NewRewards(registry)

	rates, err := rewardconfig.NewService(rewardconfig.NewRepository(dbClient.DB()), logg, rewardconfig.Options{
		DefaultRate: cfg.Rewards.DefaultRate(),
		MaxRate:     cfg.Rewards.MaxRate(),
		OpTimeout:   cfg.Rewards.OpTimeout,
	})
	if err != nil {
		return err
	}
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), dbClient, rates, logg, ledger.Options{
		MaxKg:     cfg.Rewards.MaxKg(),
		OpTimeout: cfg.Rewards.OpTimeout,
		Metrics:   rewardMetrics,
	})
	if err != nil {
		return err
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Rewards.IdempotencyTTL)
	if err != nil {
		return err
	}
	consumer, err := donations.NewConsumer(ledgerSvc, manager, logg, rewardMetrics)
	if err != nil {
		return err
	}

	svc, err := NewService(ServiceParams{
		Logger:       logg,
		DB:           dbClient,
		Redis:        redisClient,
		PubSub:       psClient,
		Subscription: psClient.DonationApprovals(),
		Consumer:     consumer,
		Gatherer:     registry,
		MetricsAddr:  ":" + cfg.Service.MetricsPort,
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "starting donation approvals worker")
	return svc.Run(ctx)
}
