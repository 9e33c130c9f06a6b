package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/ecobricks/rewards-backend/api/controllers"
	"github.com/ecobricks/rewards-backend/api/routes"
	"github.com/ecobricks/rewards-backend/internal/donations"
	"github.com/ecobricks/rewards-backend/internal/ledger"
	"github.com/ecobricks/rewards-backend/internal/rewardconfig"
	"github.com/ecobricks/rewards-backend/internal/vouchers"
	"github.com/ecobricks/rewards-backend/pkg/config"
	"github.com/ecobricks/rewards-backend/pkg/db"
	"github.com/ecobricks/rewards-backend/pkg/instance"
	"github.com/ecobricks/rewards-backend/pkg/logger"
	"github.com/ecobricks/rewards-backend/pkg/metrics"
	"github.com/ecobricks/rewards-backend/pkg/migrate"
	"github.com/ecobricks/rewards-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.Open(ctx, *cfg, logg)
	if err != nil {
		return err
	}
	closers := []func() error{dbClient.Close}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	var (
		store       redis.IdempotencyStore
		redisPinger controllers.Pinger
	)
	if cfg.Redis.URL == "" && cfg.Redis.Address == "" && cfg.App.IsDev() {
		logg.Warn(ctx, "no redis configured, using in-memory idempotency store")
		store = redis.NewMemoryStore()
	} else {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return err
		}
		closers = append(closers, redisClient.Close)
		store, redisPinger = redisClient, redisClient
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rewardMetrics := metrics.NewRewards(registry)

	services, err := buildServices(cfg, logg, dbClient, rewardMetrics)
	if err != nil {
		return err
	}

	addr := ":" + cfg.App.Port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID("local"),
		"dialect":  dbClient.Dialect(),
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisPinger, store, registry, services),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, m *metrics.Rewards) (routes.Services, error) {
	conn := dbClient.DB()
	opTimeout := cfg.Rewards.OpTimeout

	rates, err := rewardconfig.NewService(rewardconfig.NewRepository(conn), logg, rewardconfig.Options{
		DefaultRate: cfg.Rewards.DefaultRate(),
		MaxRate:     cfg.Rewards.MaxRate(),
		OpTimeout:   opTimeout,
	})
	if err != nil {
		return routes.Services{}, err
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), dbClient, rates, logg, ledger.Options{
		MaxKg:     cfg.Rewards.MaxKg(),
		OpTimeout: opTimeout,
		Metrics:   m,
	})
	if err != nil {
		return routes.Services{}, err
	}

	voucherSvc, err := vouchers.NewService(vouchers.NewRepository(conn), ledgerSvc, logg, vouchers.Options{
		OpTimeout: opTimeout,
		Metrics:   m,
	})
	if err != nil {
		return routes.Services{}, err
	}

	donationSvc, err := donations.NewService(donations.NewRepository(conn), ledgerSvc, logg, donations.Options{
		MaxKg:     cfg.Rewards.MaxKg(),
		OpTimeout: opTimeout,
	})
	if err != nil {
		return routes.Services{}, err
	}

	return routes.Services{
		Config:    rates,
		Ledger:    ledgerSvc,
		Vouchers:  voucherSvc,
		Donations: donationSvc,
	}, nil
}
