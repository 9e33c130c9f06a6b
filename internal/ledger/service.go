package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ecobricks/rewards-backend/pkg/db"
	"github.com/ecobricks/rewards-backend/pkg/db/models"
	"github.com/ecobricks/rewards-backend/pkg/enums"
	pkgerrors "github.com/ecobricks/rewards-backend/pkg/errors"
	"github.com/ecobricks/rewards-backend/pkg/logger"
	"github.com/ecobricks/rewards-backend/pkg/metrics"
)

// MaxKgScale is the number of fractional digits a donation weight may carry.
const MaxKgScale = 3

const donationEventConstraint = "donation_event_id"

// Service is the sole writer of reward balances and activity history.
type Service interface {
	// CreditForDonation records an approved donation and credits its points.
	// Replaying the same donation event returns the original record unchanged.
	CreditForDonation(ctx context.Context, input CreditInput) (*models.ActivityRecord, error)
	// RecordRejection appends a zero-point record for a rejected donation.
	RecordRejection(ctx context.Context, input RejectionInput) (*models.ActivityRecord, error)
	// Debit removes points in the same transaction as input.Attach. Nothing
	// is persisted unless both succeed.
	Debit(ctx context.Context, input DebitInput) (*models.ActivityRecord, error)
	Balance(ctx context.Context, userID string) (int64, error)
	History(ctx context.Context, userID string) ([]models.ActivityRecord, error)
	Summary(ctx context.Context, userID string) (*Summary, error)
}

// RateSource supplies the points-per-kilogram rate in effect.
type RateSource interface {
	Rate(ctx context.Context) decimal.Decimal
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CreditInput describes an approved donation.
type CreditInput struct {
	DonationEventID string
	UserID          string
	Kg              decimal.Decimal
	ApproverID      string
	Reason          string
}

// RejectionInput describes a rejected donation.
type RejectionInput struct {
	DonationEventID string
	UserID          string
	Kg              decimal.Decimal
	ReviewerID      string
	Reason          string
}

// AttachFunc runs inside the debit transaction with the new activity record.
type AttachFunc func(ctx context.Context, tx *gorm.DB, record *models.ActivityRecord) error

// DebitInput describes a redemption debit.
type DebitInput struct {
	UserID           string
	Points           int64
	RelatedVoucherID uuid.UUID
	Reason           string
	Attach           AttachFunc
}

// Summary aggregates a user's reward history.
type Summary struct {
	UserID            string          `json:"user_id"`
	Balance           int64           `json:"balance"`
	ApprovedDonations int64           `json:"approved_donations"`
	RejectedDonations int64           `json:"rejected_donations"`
	TotalApprovedKg   decimal.Decimal `json:"total_approved_kg"`
	PointsEarned      int64           `json:"points_earned"`
	PointsSpent       int64           `json:"points_spent"`
	VouchersRedeemed  int64           `json:"vouchers_redeemed"`
}

// Options tunes the ledger service.
type Options struct {
	MaxKg     decimal.Decimal
	OpTimeout time.Duration
	Metrics   *metrics.Rewards
	Now       func() time.Time
}

type service struct {
	repo      Repository
	tx        txRunner
	rates     RateSource
	logg      *logger.Logger
	locks     *userLocks
	maxKg     decimal.Decimal
	opTimeout time.Duration
	metrics   *metrics.Rewards
	now       func() time.Time
}

// NewService builds the ledger service.
func NewService(repo Repository, tx txRunner, rates RateSource, logg *logger.Logger, opts Options) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if rates == nil {
		return nil, fmt.Errorf("rate source required")
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
		tx:        tx,
		rates:     rates,
		logg:      logg,
		locks:     newUserLocks(),
		maxKg:     opts.MaxKg,
		opTimeout: opts.OpTimeout,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}, nil
}

// PointsFor converts a weight to points, rounding half away from zero.
func PointsFor(kg, rate decimal.Decimal) int64 {
	return kg.Mul(rate).Round(0).IntPart()
}

func (s *service) CreditForDonation(ctx context.Context, input CreditInput) (*models.ActivityRecord, error) {
	started := s.now()
	defer func() { s.metrics.ObserveDuration("credit", s.now().Sub(started)) }()

	eventID, userID, err := s.validateDonation(input.DonationEventID, input.UserID, input.Kg)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithDonationEventID(s.logg.WithUserID(ctx, userID), eventID)

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	unlock, err := s.locks.Lock(opCtx, userID)
	if err != nil {
		return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "acquire ledger lock")
	}
	defer unlock()

	// Read outside the transaction; the rate is fixed for this credit.
	rate := s.rates.Rate(opCtx)
	points := PointsFor(input.Kg, rate)

	kg := input.Kg
	record := &models.ActivityRecord{
		ID:              uuid.New(),
		UserID:          userID,
		Type:            enums.ActivityTypeDonate,
		Status:          enums.ActivityStatusApproved,
		Kg:              &kg,
		PointsPerKg:     &rate,
		PointsDelta:     points,
		DonationEventID: &eventID,
		Reason:          strings.TrimSpace(input.Reason),
		CreatedAt:       s.now().UTC(),
	}

	var existing *models.ActivityRecord
	err = s.tx.WithTx(opCtx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		found, err := repo.FindByDonationEventID(opCtx, eventID)
		if err == nil {
			existing = found
			return nil
		}
		if !db.IsNotFound(err) {
			return err
		}
		if err := repo.CreateActivity(opCtx, record); err != nil {
			return err
		}
		return repo.Increment(opCtx, userID, points, record.CreatedAt)
	})
	if err != nil {
		if !db.IsUniqueViolation(err, donationEventConstraint) {
			s.logg.Error(ctx, "donation credit failed", err)
			return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "credit donation")
		}
		// Another writer recorded this event first.
		found, findErr := s.repo.FindByDonationEventID(opCtx, eventID)
		if findErr != nil {
			return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, findErr, "reload donation credit")
		}
		existing = found
	}
	if existing != nil {
		return s.replay(ctx, existing, userID, enums.ActivityStatusApproved)
	}

	s.metrics.AddCredited(points)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"kg":            kg.String(),
		"points_per_kg": rate.String(),
		"points":        points,
		"approver_id":   input.ApproverID,
	}), "donation credited")
	return record, nil
}

func (s *service) RecordRejection(ctx context.Context, input RejectionInput) (*models.ActivityRecord, error) {
	eventID, userID, err := s.validateDonation(input.DonationEventID, input.UserID, input.Kg)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithDonationEventID(s.logg.WithUserID(ctx, userID), eventID)

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	kg := input.Kg
	record := &models.ActivityRecord{
		ID:              uuid.New(),
		UserID:          userID,
		Type:            enums.ActivityTypeDonate,
		Status:          enums.ActivityStatusRejected,
		Kg:              &kg,
		PointsDelta:     0,
		DonationEventID: &eventID,
		Reason:          strings.TrimSpace(input.Reason),
		CreatedAt:       s.now().UTC(),
	}

	if err := s.repo.CreateActivity(opCtx, record); err != nil {
		if !db.IsUniqueViolation(err, donationEventConstraint) {
			return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "record rejection")
		}
		found, findErr := s.repo.FindByDonationEventID(opCtx, eventID)
		if findErr != nil {
			return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, findErr, "reload rejection")
		}
		return s.replay(ctx, found, userID, enums.ActivityStatusRejected)
	}

	s.logg.Info(s.logg.WithField(ctx, "reviewer_id", input.ReviewerID), "donation rejection recorded")
	return record, nil
}

// replay resolves a second delivery of a donation event against the record
// already stored for it.
func (s *service) replay(ctx context.Context, existing *models.ActivityRecord, userID string, status enums.ActivityStatus) (*models.ActivityRecord, error) {
	if existing.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "donation event already recorded for another user").
			WithDetails(map[string]any{"donation_event_id": derefString(existing.DonationEventID)})
	}
	if existing.Status != status {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("donation event already recorded as %s", existing.Status)).
			WithDetails(map[string]any{"donation_event_id": derefString(existing.DonationEventID), "status": existing.Status})
	}
	if status == enums.ActivityStatusApproved {
		s.metrics.IncDuplicateCredit()
	}
	s.logg.Info(ctx, "donation event already recorded")
	return existing, nil
}

func (s *service) Debit(ctx context.Context, input DebitInput) (*models.ActivityRecord, error) {
	started := s.now()
	defer func() { s.metrics.ObserveDuration("debit", s.now().Sub(started)) }()

	userID := strings.TrimSpace(input.UserID)
	switch {
	case userID == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	case input.Points <= 0:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "points must be positive")
	case input.RelatedVoucherID == uuid.Nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "related voucher id is required")
	case input.Attach == nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "debit requires an attached issuance")
	}
	ctx = s.logg.WithVoucherID(s.logg.WithUserID(ctx, userID), input.RelatedVoucherID.String())

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	unlock, err := s.locks.Lock(opCtx, userID)
	if err != nil {
		return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "acquire ledger lock")
	}
	defer unlock()

	voucherID := input.RelatedVoucherID
	record := &models.ActivityRecord{
		ID:               uuid.New(),
		UserID:           userID,
		Type:             enums.ActivityTypeRedeem,
		Status:           enums.ActivityStatusApproved,
		PointsDelta:      -input.Points,
		RelatedVoucherID: &voucherID,
		Reason:           strings.TrimSpace(input.Reason),
		CreatedAt:        s.now().UTC(),
	}

	err = s.tx.WithTx(opCtx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.Decrement(opCtx, userID, input.Points, record.CreatedAt)
		if err != nil {
			return err
		}
		if !ok {
			balance, err := repo.Balance(opCtx, userID)
			if err != nil {
				return err
			}
			return pkgerrors.New(pkgerrors.CodeInsufficientPoints, "insufficient points").
				WithDetails(map[string]any{"required": input.Points, "balance": balance})
		}
		if err := repo.CreateActivity(opCtx, record); err != nil {
			return err
		}
		return input.Attach(opCtx, tx, record)
	})
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientPoints) {
			s.logg.Error(ctx, "points debit failed", err)
		}
		return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "debit points")
	}

	s.metrics.AddDebited(input.Points)
	s.logg.Info(s.logg.WithField(ctx, "points", input.Points), "points debited")
	return record, nil
}

func (s *service) Balance(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	balance, err := s.repo.Balance(opCtx, userID)
	if err != nil {
		return 0, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "load balance")
	}
	return balance, nil
}

func (s *service) History(ctx context.Context, userID string) ([]models.ActivityRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	records, err := s.repo.ListByUser(opCtx, userID)
	if err != nil {
		return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "load history")
	}
	if records == nil {
		records = []models.ActivityRecord{}
	}
	return records, nil
}

func (s *service) Summary(ctx context.Context, userID string) (*Summary, error) {
	records, err := s.History(ctx, userID)
	if err != nil {
		return nil, err
	}
	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		UserID:          strings.TrimSpace(userID),
		Balance:         balance,
		TotalApprovedKg: decimal.Zero,
	}
	for _, rec := range records {
		switch {
		case rec.Type == enums.ActivityTypeDonate && rec.Status == enums.ActivityStatusApproved:
			summary.ApprovedDonations++
			summary.PointsEarned += rec.PointsDelta
			if rec.Kg != nil {
				summary.TotalApprovedKg = summary.TotalApprovedKg.Add(*rec.Kg)
			}
		case rec.Type == enums.ActivityTypeDonate && rec.Status == enums.ActivityStatusRejected:
			summary.RejectedDonations++
		case rec.Type == enums.ActivityTypeRedeem:
			summary.VouchersRedeemed++
			summary.PointsSpent += -rec.PointsDelta
		}
	}
	return summary, nil
}

func (s *service) validateDonation(eventID, userID string, kg decimal.Decimal) (string, string, error) {
	eventID = strings.TrimSpace(eventID)
	userID = strings.TrimSpace(userID)
	switch {
	case eventID == "":
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "donation event id is required")
	case userID == "":
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	case !kg.IsPositive():
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "kg must be positive").
			WithDetails(map[string]any{"kg": kg.String()})
	case !kg.Equal(kg.Truncate(MaxKgScale)):
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("kg supports at most %d decimal places", MaxKgScale)).
			WithDetails(map[string]any{"kg": kg.String()})
	case s.maxKg.IsPositive() && kg.GreaterThan(s.maxKg):
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "kg exceeds the allowed maximum").
			WithDetails(map[string]any{"kg": kg.String(), "max": s.maxKg.String()})
	}
	return eventID, userID, nil
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
