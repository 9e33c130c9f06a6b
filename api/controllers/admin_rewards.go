package controllers

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/ecobricks/rewards-backend/api/middleware"
	"github.com/ecobricks/rewards-backend/api/responses"
	"github.com/ecobricks/rewards-backend/api/validators"
	"github.com/ecobricks/rewards-backend/internal/ledger"
	"github.com/ecobricks/rewards-backend/pkg/db/models"
	"github.com/ecobricks/rewards-backend/pkg/logger"
)

type rateAdmin interface {
	Snapshot(ctx context.Context) (*models.RewardConfig, error)
	SetRate(ctx context.Context, actorID string, rate decimal.Decimal) (*models.RewardConfig, error)
}

type donationCreditor interface {
	CreditForDonation(ctx context.Context, input ledger.CreditInput) (*models.ActivityRecord, error)
}

type updateRateRequest struct {
	PointsPerKg decimal.Decimal `json:"points_per_kg"`
}

type directCreditRequest struct {
	DonationEventID string          `json:"donation_event_id" validate:"required,max=128"`
	UserID          string          `json:"user_id" validate:"required,max=128"`
	Kg              decimal.Decimal `json:"kg"`
	Reason          string          `json:"reason,omitempty" validate:"max=500"`
}

// AdminRewardsConfig returns the full configuration row.
func AdminRewardsConfig(svc rateAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := svc.Snapshot(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toRateResponse(cfg))
	}
}

// AdminRewardsConfigUpdate changes the points-per-kg rate for future credits.
func AdminRewardsConfigUpdate(svc rateAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload updateRateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cfg, err := svc.SetRate(r.Context(), middleware.UserIDFromContext(r.Context()), payload.PointsPerKg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toRateResponse(cfg))
	}
}

// AdminDirectCredit credits a donation approved by an external workflow.
func AdminDirectCredit(svc donationCreditor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload directCreditRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := svc.CreditForDonation(r.Context(), ledger.CreditInput{
			DonationEventID: payload.DonationEventID,
			UserID:          payload.UserID,
			Kg:              payload.Kg,
			ApproverID:      middleware.UserIDFromContext(r.Context()),
			Reason:          payload.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, record)
	}
}

func toRateResponse(cfg *models.RewardConfig) rateResponse {
	resp := rateResponse{PointsPerKg: cfg.PointsPerKg, UpdatedBy: cfg.UpdatedBy}
	if !cfg.UpdatedAt.IsZero() {
		updatedAt := cfg.UpdatedAt
		resp.UpdatedAt = &updatedAt
	}
	return resp
}
