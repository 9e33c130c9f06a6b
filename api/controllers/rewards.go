package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecobricks/rewards-backend/api/responses"
	"github.com/ecobricks/rewards-backend/internal/ledger"
	"github.com/ecobricks/rewards-backend/pkg/db/models"
	"github.com/ecobricks/rewards-backend/pkg/logger"
)

type ledgerReader interface {
	Balance(ctx context.Context, userID string) (int64, error)
	History(ctx context.Context, userID string) ([]models.ActivityRecord, error)
	Summary(ctx context.Context, userID string) (*ledger.Summary, error)
}

type rateReader interface {
	Rate(ctx context.Context) decimal.Decimal
}

type balanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

type rateResponse struct {
	PointsPerKg decimal.Decimal `json:"points_per_kg"`
	UpdatedBy   *string         `json:"updated_by,omitempty"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"`
}

// RewardsBalance returns the caller's point balance.
func RewardsBalance(svc ledgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		balance, err := svc.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balanceResponse{UserID: userID, Balance: balance})
	}
}

// RewardsHistory returns the caller's activity in chronological order.
func RewardsHistory(svc ledgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		history, err := svc.History(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, history)
	}
}

// RewardsSummary returns the caller's profile statistics.
func RewardsSummary(svc ledgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		summary, err := svc.Summary(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// RewardsRate exposes the current conversion rate.
func RewardsRate(svc rateReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, rateResponse{PointsPerKg: svc.Rate(r.Context())})
	}
}
