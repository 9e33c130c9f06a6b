package donations

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecobricks/rewards-backend/internal/ledger"
	"github.com/ecobricks/rewards-backend/pkg/db"
	"github.com/ecobricks/rewards-backend/pkg/db/models"
	"github.com/ecobricks/rewards-backend/pkg/enums"
	pkgerrors "github.com/ecobricks/rewards-backend/pkg/errors"
	"github.com/ecobricks/rewards-backend/pkg/logger"
)

const MaxNoteLength = 500

// Service handles donation submission and administrator review.
type Service interface {
	Submit(ctx context.Context, userID string, kg decimal.Decimal, note string) (*models.Donation, error)
	// Approve marks a donation approved and credits its points. Approving an
	// already approved donation re-runs the idempotent credit.
	Approve(ctx context.Context, adminID string, donationID uuid.UUID) (*Review, error)
	Reject(ctx context.Context, adminID string, donationID uuid.UUID, reason string) (*Review, error)
	ListByUser(ctx context.Context, userID string) ([]models.Donation, error)
	ListByStatus(ctx context.Context, status enums.DonationStatus) ([]models.Donation, error)
}

type donationLedger interface {
	CreditForDonation(ctx context.Context, input ledger.CreditInput) (*models.ActivityRecord, error)
	RecordRejection(ctx context.Context, input ledger.RejectionInput) (*models.ActivityRecord, error)
}

// Review pairs a reviewed donation with the ledger record it produced.
type Review struct {
	Donation models.Donation       `json:"donation"`
	Activity models.ActivityRecord `json:"activity"`
}

// Options tunes the donation service.
type Options struct {
	MaxKg     decimal.Decimal
	OpTimeout time.Duration
	Now       func() time.Time
}

type service struct {
	repo      Repository
	ledger    donationLedger
	logg      *logger.Logger
	maxKg     decimal.Decimal
	opTimeout time.Duration
	now       func() time.Time
}

// NewService builds the donation service.
func NewService(repo Repository, donationLedger donationLedger, logg *logger.Logger, opts Options) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("donation repository required")
	}
	if donationLedger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &service{
		repo:      repo,
		ledger:    donationLedger,
		logg:      logg,
		maxKg:     opts.MaxKg,
		opTimeout: opts.OpTimeout,
		now:       opts.Now,
	}, nil
}

func (s *service) Submit(ctx context.Context, userID string, kg decimal.Decimal, note string) (*models.Donation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if err := ValidateKg(kg, s.maxKg); err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("note must be at most %d characters", MaxNoteLength)).
			WithDetails(map[string]any{"field": "note"})
	}

	now := s.now().UTC()
	donation := &models.Donation{
		ID:        uuid.New(),
		UserID:    userID,
		Kg:        kg,
		Note:      note,
		Status:    enums.DonationStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.repo.Create(opCtx, donation); err != nil {
		return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "submit donation")
	}

	s.logg.Info(s.logg.WithFields(s.logg.WithUserID(ctx, userID), map[string]any{
		"donation_id": donation.ID.String(),
		"kg":          kg.String(),
	}), "donation submitted")
	return donation, nil
}

func (s *service) Approve(ctx context.Context, adminID string, donationID uuid.UUID) (*Review, error) {
	donation, err := s.review(ctx, adminID, donationID, enums.DonationStatusApproved)
	if err != nil {
		return nil, err
	}

	activity, err := s.ledger.CreditForDonation(ctx, ledger.CreditInput{
		DonationEventID: donation.ID.String(),
		UserID:          donation.UserID,
		Kg:              donation.Kg,
		ApproverID:      strings.TrimSpace(adminID),
	})
	if err != nil {
		return nil, err
	}
	return &Review{Donation: *donation, Activity: *activity}, nil
}

func (s *service) Reject(ctx context.Context, adminID string, donationID uuid.UUID, reason string) (*Review, error) {
	donation, err := s.review(ctx, adminID, donationID, enums.DonationStatusRejected)
	if err != nil {
		return nil, err
	}

	activity, err := s.ledger.RecordRejection(ctx, ledger.RejectionInput{
		DonationEventID: donation.ID.String(),
		UserID:          donation.UserID,
		Kg:              donation.Kg,
		ReviewerID:      strings.TrimSpace(adminID),
		Reason:          reason,
	})
	if err != nil {
		return nil, err
	}
	return &Review{Donation: *donation, Activity: *activity}, nil
}

// review moves a pending donation to target. A donation already at target
// is returned as is so the ledger step can be retried.
func (s *service) review(ctx context.Context, adminID string, donationID uuid.UUID, target enums.DonationStatus) (*models.Donation, error) {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reviewer id is required")
	}
	if donationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "donation id is required")
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	donation, err := s.load(opCtx, donationID)
	if err != nil {
		return nil, err
	}
	if donation.Status == enums.DonationStatusPending {
		now := s.now().UTC()
		moved, err := s.repo.MarkReviewed(opCtx, donationID, target, adminID, now)
		if err != nil {
			return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "review donation")
		}
		if moved {
			donation.Status = target
			donation.ReviewedBy = &adminID
			donation.ReviewedAt = &now
			donation.UpdatedAt = now
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"donation_id": donationID.String(),
				"status":      target.String(),
				"reviewer_id": adminID,
			}), "donation reviewed")
			return donation, nil
		}
		// Someone else reviewed it between the read and the update.
		if donation, err = s.load(opCtx, donationID); err != nil {
			return nil, err
		}
	}
	if donation.Status != target {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("donation already %s", donation.Status)).
			WithDetails(map[string]any{"donation_id": donationID, "status": donation.Status})
	}
	return donation, nil
}

func (s *service) ListByUser(ctx context.Context, userID string) ([]models.Donation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	donations, err := s.repo.ListByUser(opCtx, userID)
	if err != nil {
		return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "list donations")
	}
	if donations == nil {
		donations = []models.Donation{}
	}
	return donations, nil
}

func (s *service) ListByStatus(ctx context.Context, status enums.DonationStatus) ([]models.Donation, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid donation status").
			WithDetails(map[string]any{"status": status})
	}
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	donations, err := s.repo.ListByStatus(opCtx, status)
	if err != nil {
		return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "list donations")
	}
	if donations == nil {
		donations = []models.Donation{}
	}
	return donations, nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	donation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "donation not found")
		}
		return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "load donation")
	}
	return donation, nil
}

// ValidateKg checks a donation weight against the ledger's precision and max.
func ValidateKg(kg, maxKg decimal.Decimal) error {
	switch {
	case !kg.IsPositive():
		return pkgerrors.New(pkgerrors.CodeValidation, "kg must be positive").
			WithDetails(map[string]any{"field": "kg"})
	case !kg.Equal(kg.Truncate(ledger.MaxKgScale)):
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("kg supports at most %d decimal places", ledger.MaxKgScale)).
			WithDetails(map[string]any{"field": "kg"})
	case maxKg.IsPositive() && kg.GreaterThan(maxKg):
		return pkgerrors.New(pkgerrors.CodeValidation, "kg exceeds the allowed maximum").
			WithDetails(map[string]any{"field": "kg", "max": maxKg.String()})
	}
	return nil
}
