package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ecobricks/rewards-backend/internal/donations"
	"github.com/ecobricks/rewards-backend/pkg/logger"
)

const metricsShutdownTimeout = 5 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

type messageHandler interface {
	Handle(ctx context.Context, data []byte) bool
}

type ServiceParams struct {
	Logger       *logger.Logger
	DB           pinger
	Redis        pinger
	PubSub       pinger
	Subscription *pubsub.Subscriber
	Consumer     *donations.Consumer
	Gatherer     prometheus.Gatherer
	MetricsAddr  string
}

// Service runs the donation approval consumer next to a metrics endpoint.
type Service struct {
	logg         *logger.Logger
	db           pinger
	redis        pinger
	pubsub       pinger
	subscription *pubsub.Subscriber
	handler      messageHandler
	gatherer     prometheus.Gatherer
	metricsAddr  string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Subscription == nil {
		return nil, errors.New("donation approvals subscription is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("donation consumer is required")
	}
	if params.Gatherer == nil {
		return nil, errors.New("metrics gatherer is required")
	}

	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		redis:        params.Redis,
		pubsub:       params.PubSub,
		subscription: params.Subscription,
		handler:      params.Consumer,
		gatherer:     params.Gatherer,
		metricsAddr:  params.MetricsAddr,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until ctx is canceled or the receive loop fails.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.subscription.Receive(gctx, func(msgCtx context.Context, msg *pubsub.Message) {
			logCtx := s.logg.WithField(msgCtx, "message_id", msg.ID)
			if s.handler.Handle(logCtx, msg.Data) {
				msg.Ack()
				return
			}
			msg.Nack()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(gctx, "donation consumer stopped unexpectedly", err)
			return err
		}
		if ctx.Err() == nil {
			return errors.New("donation consumer receive loop exited")
		}
		return nil
	})

	if s.metricsAddr != "" {
		server := &http.Server{
			Addr:              s.metricsAddr,
			Handler:           metricsMux(s.gatherer),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func metricsMux(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
