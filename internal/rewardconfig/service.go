package rewardconfig

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecobricks/rewards-backend/pkg/db"
	"github.com/ecobricks/rewards-backend/pkg/db/models"
	pkgerrors "github.com/ecobricks/rewards-backend/pkg/errors"
	"github.com/ecobricks/rewards-backend/pkg/logger"
)

// MaxRateScale is the number of fractional digits a rate may carry.
const MaxRateScale = 4

// Service exposes the points-per-kilogram conversion rate.
type Service interface {
	// Rate returns the rate in effect right now. It never fails: when the
	// store cannot be read the last known rate is returned.
	Rate(ctx context.Context) decimal.Decimal
	Snapshot(ctx context.Context) (*models.RewardConfig, error)
	SetRate(ctx context.Context, actorID string, rate decimal.Decimal) (*models.RewardConfig, error)
}

// Options tunes the configuration service.
type Options struct {
	DefaultRate decimal.Decimal
	MaxRate     decimal.Decimal
	OpTimeout   time.Duration
	Now         func() time.Time
}

type service struct {
	repo      Repository
	logg      *logger.Logger
	maxRate   decimal.Decimal
	opTimeout time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	last decimal.Decimal
}

// NewService wires a configuration service seeded with the default rate.
func NewService(repo Repository, logg *logger.Logger, opts Options) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("reward config repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if !opts.DefaultRate.IsPositive() {
		return nil, fmt.Errorf("default rate must be positive")
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &service{
		repo:      repo,
		logg:      logg,
		maxRate:   opts.MaxRate,
		opTimeout: opts.OpTimeout,
		now:       opts.Now,
		last:      opts.DefaultRate,
	}, nil
}

func (s *service) Rate(ctx context.Context) decimal.Decimal {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	cfg, err := s.repo.Get(opCtx)
	if err != nil {
		if !db.IsNotFound(err) {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "reward config unreadable, using last known rate")
		}
		return s.cached()
	}
	s.remember(cfg.PointsPerKg)
	return cfg.PointsPerKg
}

func (s *service) Snapshot(ctx context.Context) (*models.RewardConfig, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	cfg, err := s.repo.Get(opCtx)
	if err != nil {
		if db.IsNotFound(err) {
			return &models.RewardConfig{ID: models.RewardConfigRowID, PointsPerKg: s.cached()}, nil
		}
		return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "load reward config")
	}
	s.remember(cfg.PointsPerKg)
	return cfg, nil
}

func (s *service) SetRate(ctx context.Context, actorID string, rate decimal.Decimal) (*models.RewardConfig, error) {
	if err := s.validateRate(rate); err != nil {
		return nil, err
	}

	cfg := &models.RewardConfig{
		PointsPerKg: rate,
		UpdatedAt:   s.now().UTC(),
	}
	if actor := strings.TrimSpace(actorID); actor != "" {
		cfg.UpdatedBy = &actor
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.repo.Upsert(opCtx, cfg); err != nil {
		return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "persist reward config")
	}
	s.remember(rate)

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"points_per_kg": rate.String(),
		"updated_by":    actorID,
	}), "reward rate updated")
	return cfg, nil
}

func (s *service) validateRate(rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeInvalidConfig, "points per kg must be positive").
			WithDetails(map[string]any{"points_per_kg": rate.String()})
	}
	if !rate.Equal(rate.Truncate(MaxRateScale)) {
		return pkgerrors.New(pkgerrors.CodeInvalidConfig, fmt.Sprintf("points per kg supports at most %d decimal places", MaxRateScale)).
			WithDetails(map[string]any{"points_per_kg": rate.String()})
	}
	if s.maxRate.IsPositive() && rate.GreaterThan(s.maxRate) {
		return pkgerrors.New(pkgerrors.CodeInvalidConfig, "points per kg exceeds the allowed maximum").
			WithDetails(map[string]any{"points_per_kg": rate.String(), "max": s.maxRate.String()})
	}
	return nil
}

func (s *service) cached() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *service) remember(rate decimal.Decimal) {
	if !rate.IsPositive() {
		return
	}
	s.mu.Lock()
	s.last = rate
	s.mu.Unlock()
}
