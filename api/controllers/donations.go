package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecobricks/rewards-backend/api/middleware"
	"github.com/ecobricks/rewards-backend/api/responses"
	"github.com/ecobricks/rewards-backend/api/validators"
	"github.com/ecobricks/rewards-backend/internal/donations"
	"github.com/ecobricks/rewards-backend/pkg/db/models"
	"github.com/ecobricks/rewards-backend/pkg/enums"
	pkgerrors "github.com/ecobricks/rewards-backend/pkg/errors"
	"github.com/ecobricks/rewards-backend/pkg/logger"
)

type donationSubmitter interface {
	Submit(ctx context.Context, userID string, kg decimal.Decimal, note string) (*models.Donation, error)
	ListByUser(ctx context.Context, userID string) ([]models.Donation, error)
}

type donationReviewer interface {
	Approve(ctx context.Context, adminID string, donationID uuid.UUID) (*donations.Review, error)
	Reject(ctx context.Context, adminID string, donationID uuid.UUID, reason string) (*donations.Review, error)
	ListByStatus(ctx context.Context, status enums.DonationStatus) ([]models.Donation, error)
}

type submitDonationRequest struct {
	Kg   decimal.Decimal `json:"kg"`
	Note string          `json:"note,omitempty" validate:"max=500"`
}

type rejectDonationRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// DonationSubmit records a pending donation for the caller.
func DonationSubmit(svc donationSubmitter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		var payload submitDonationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		donation, err := svc.Submit(r.Context(), userID, payload.Kg, payload.Note)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, donation)
	}
}

// DonationList returns the caller's submissions, newest first.
func DonationList(svc donationSubmitter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		list, err := svc.ListByUser(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// AdminDonationList returns donations in one status. It defaults to the pending queue.
func AdminDonationList(svc donationReviewer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := enums.DonationStatusPending
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseDonationStatus(strings.ToLower(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid status").
					WithDetails(map[string]any{"field": "status", "value": raw}))
				return
			}
			status = parsed
		}

		list, err := svc.ListByStatus(r.Context(), status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// AdminDonationApprove approves a donation and credits its points.
func AdminDonationApprove(svc donationReviewer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		donationID, err := validators.ParseUUIDParam(r, "donationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithDonationEventID(r.Context(), donationID.String())
		review, err := svc.Approve(ctx, middleware.UserIDFromContext(ctx), donationID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, review)
	}
}

func AdminDonationReject(svc donationReviewer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		donationID, err := validators.ParseUUIDParam(r, "donationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload rejectDonationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithDonationEventID(r.Context(), donationID.String())
		review, err := svc.Reject(ctx, middleware.UserIDFromContext(ctx), donationID, payload.Reason)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, review)
	}
}
