package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/ecobricks/rewards-backend/api/responses"
	"github.com/ecobricks/rewards-backend/api/validators"
	"github.com/ecobricks/rewards-backend/internal/vouchers"
	"github.com/ecobricks/rewards-backend/pkg/db/models"
	"github.com/ecobricks/rewards-backend/pkg/logger"
)

type voucherCatalog interface {
	ListActive(ctx context.Context) ([]models.VoucherDefinition, error)
}

type voucherRedeemer interface {
	Redeem(ctx context.Context, userID string, voucherID uuid.UUID) (*vouchers.Redemption, error)
	ListIssuances(ctx context.Context, userID string) ([]models.VoucherIssuance, error)
}

type voucherAdmin interface {
	voucherCatalog
	Create(ctx context.Context, input vouchers.CreateInput) (*models.VoucherDefinition, error)
	Update(ctx context.Context, id uuid.UUID, input vouchers.UpdateInput) (*models.VoucherDefinition, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type createVoucherRequest struct {
	Title          string `json:"title" validate:"required,max=120"`
	Code           string `json:"code,omitempty" validate:"omitempty,max=32"`
	Discount       string `json:"discount" validate:"required,max=64"`
	PointsRequired int64  `json:"points_required" validate:"gt=0"`
	ExpiresAt      string `json:"expires_at" validate:"required"`
}

type updateVoucherRequest struct {
	Title          *string `json:"title,omitempty" validate:"omitempty,max=120"`
	Code           *string `json:"code,omitempty" validate:"omitempty,max=32"`
	Discount       *string `json:"discount,omitempty" validate:"omitempty,max=64"`
	PointsRequired *int64  `json:"points_required,omitempty" validate:"omitempty,gt=0"`
	ExpiresAt      *string `json:"expires_at,omitempty"`
}

type deleteVoucherResponse struct {
	Deleted bool `json:"deleted"`
}

// VoucherList returns the active catalog.
func VoucherList(svc voucherCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListActive(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// VoucherRedeem spends the caller's points on a voucher.
func VoucherRedeem(svc voucherRedeemer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		voucherID, err := validators.ParseUUIDParam(r, "voucherId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithVoucherID(r.Context(), voucherID.String())
		redemption, err := svc.Redeem(ctx, userID, voucherID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, redemption)
	}
}

// VoucherIssuances lists vouchers the caller has redeemed, newest first.
func VoucherIssuances(svc voucherRedeemer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		issuances, err := svc.ListIssuances(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, issuances)
	}
}

// AdminVoucherCreate adds a voucher to the catalog.
func AdminVoucherCreate(svc voucherAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createVoucherRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		voucher, err := svc.Create(r.Context(), vouchers.CreateInput{
			Title:          payload.Title,
			Code:           payload.Code,
			Discount:       payload.Discount,
			PointsRequired: payload.PointsRequired,
			ExpiresAt:      payload.ExpiresAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, voucher)
	}
}

// AdminVoucherUpdate patches a voucher definition. Issued vouchers keep their snapshot.
func AdminVoucherUpdate(svc voucherAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		voucherID, err := validators.ParseUUIDParam(r, "voucherId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload updateVoucherRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		voucher, err := svc.Update(r.Context(), voucherID, vouchers.UpdateInput{
			Title:          payload.Title,
			Code:           payload.Code,
			Discount:       payload.Discount,
			PointsRequired: payload.PointsRequired,
			ExpiresAt:      payload.ExpiresAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, voucher)
	}
}

func AdminVoucherDelete(svc voucherAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		voucherID, err := validators.ParseUUIDParam(r, "voucherId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), voucherID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, deleteVoucherResponse{Deleted: true})
	}
}
