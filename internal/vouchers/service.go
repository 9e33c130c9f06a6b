package vouchers

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ecobricks/rewards-backend/internal/ledger"
	"github.com/ecobricks/rewards-backend/pkg/db"
	"github.com/ecobricks/rewards-backend/pkg/db/models"
	pkgerrors "github.com/ecobricks/rewards-backend/pkg/errors"
	"github.com/ecobricks/rewards-backend/pkg/logger"
	"github.com/ecobricks/rewards-backend/pkg/metrics"
)

const (
	MaxTitleLength    = 120
	MaxDiscountLength = 64

	codeGenerationAttempts = 5
)

// Service manages the voucher catalog and redemptions.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.VoucherDefinition, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.VoucherDefinition, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*models.VoucherDefinition, error)
	ListActive(ctx context.Context) ([]models.VoucherDefinition, error)
	Redeem(ctx context.Context, userID string, voucherID uuid.UUID) (*Redemption, error)
	ListIssuances(ctx context.Context, userID string) ([]models.VoucherIssuance, error)
}

type pointsLedger interface {
	Debit(ctx context.Context, input ledger.DebitInput) (*models.ActivityRecord, error)
	Balance(ctx context.Context, userID string) (int64, error)
}

// CreateInput describes a new voucher. An empty Code asks for a generated one.
type CreateInput struct {
	Title          string
	Code           string
	Discount       string
	PointsRequired int64
	ExpiresAt      string
}

// UpdateInput patches a voucher; nil fields are left as they are.
type UpdateInput struct {
	Title          *string
	Code           *string
	Discount       *string
	PointsRequired *int64
	ExpiresAt      *string
}

// Redemption is the outcome of a successful redeem.
type Redemption struct {
	Issuance models.VoucherIssuance `json:"issuance"`
	Activity models.ActivityRecord  `json:"activity"`
	// Balance is nil when it could not be read after the redemption committed.
	Balance *int64 `json:"balance,omitempty"`
}

// Options tunes the voucher service.
type Options struct {
	OpTimeout time.Duration
	Metrics   *metrics.Rewards
	Now       func() time.Time
	// GenerateCode overrides the code generator.
	GenerateCode func() (string, error)
}

type service struct {
	repo      Repository
	ledger    pointsLedger
	logg      *logger.Logger
	opTimeout time.Duration
	metrics   *metrics.Rewards
	now       func() time.Time
	generate  func() (string, error)
}

// NewService builds the voucher service.
func NewService(repo Repository, pointsLedger pointsLedger, logg *logger.Logger, opts Options) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("voucher repository required")
	}
	if pointsLedger == nil {
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
	if opts.GenerateCode == nil {
		opts.GenerateCode = GenerateCode
	}
	return &service{
		repo:      repo,
		ledger:    pointsLedger,
		logg:      logg,
		opTimeout: opts.OpTimeout,
		metrics:   opts.Metrics,
		now:       opts.Now,
		generate:  opts.GenerateCode,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.VoucherDefinition, error) {
	title, err := validateTitle(input.Title)
	if err != nil {
		return nil, err
	}
	discount, err := validateDiscount(input.Discount)
	if err != nil {
		return nil, err
	}
	if err := validatePoints(input.PointsRequired); err != nil {
		return nil, err
	}
	expiresAt, err := s.validateExpiry(input.ExpiresAt)
	if err != nil {
		return nil, err
	}

	def := &models.VoucherDefinition{
		ID:             uuid.New(),
		Title:          title,
		Discount:       discount,
		PointsRequired: input.PointsRequired,
		ExpiresAt:      expiresAt,
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if strings.TrimSpace(input.Code) != "" {
		code, err := NormalizeCode(input.Code)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error()).
				WithDetails(map[string]any{"field": "code"})
		}
		def.Code = code
		if err := s.insert(opCtx, def); err != nil {
			return nil, err
		}
	} else if err := s.insertGenerated(opCtx, def); err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithVoucherID(ctx, def.ID.String()), "voucher created")
	return def, nil
}

func (s *service) insertGenerated(ctx context.Context, def *models.VoucherDefinition) error {
	for attempt := 0; attempt < codeGenerationAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate voucher code")
		}
		def.Code = code
		err = s.insert(ctx, def)
		if err == nil {
			return nil
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeDuplicateCode) {
			return err
		}
	}
	return pkgerrors.New(pkgerrors.CodeInternal, "could not generate a unique voucher code")
}

func (s *service) insert(ctx context.Context, def *models.VoucherDefinition) error {
	if err := s.ensureCodeFree(ctx, def.Code, uuid.Nil); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, def); err != nil {
		if db.IsUniqueViolation(err, "code") {
			return duplicateCode(def.Code)
		}
		return pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "create voucher")
	}
	return nil
}

func (s *service) ensureCodeFree(ctx context.Context, code string, self uuid.UUID) error {
	existing, err := s.repo.FindActiveByCode(ctx, code)
	if err != nil {
		if db.IsNotFound(err) {
			return nil
		}
		return pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "check voucher code")
	}
	if existing.ID == self {
		return nil
	}
	return duplicateCode(code)
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.VoucherDefinition, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	def, err := s.load(opCtx, id)
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		if def.Title, err = validateTitle(*input.Title); err != nil {
			return nil, err
		}
	}
	if input.Discount != nil {
		if def.Discount, err = validateDiscount(*input.Discount); err != nil {
			return nil, err
		}
	}
	if input.PointsRequired != nil {
		if err := validatePoints(*input.PointsRequired); err != nil {
			return nil, err
		}
		def.PointsRequired = *input.PointsRequired
	}
	if input.ExpiresAt != nil {
		if def.ExpiresAt, err = s.validateExpiry(*input.ExpiresAt); err != nil {
			return nil, err
		}
	}
	// A blank code keeps the current one.
	if input.Code != nil && strings.TrimSpace(*input.Code) != "" {
		code, err := NormalizeCode(*input.Code)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error()).
				WithDetails(map[string]any{"field": "code"})
		}
		if code != def.Code {
			if err := s.ensureCodeFree(opCtx, code, def.ID); err != nil {
				return nil, err
			}
			def.Code = code
		}
	}
	def.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(opCtx, def); err != nil {
		if db.IsUniqueViolation(err, "code") {
			return nil, duplicateCode(def.Code)
		}
		return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "update voucher")
	}

	s.logg.Info(s.logg.WithVoucherID(ctx, def.ID.String()), "voucher updated")
	return def, nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	deleted, err := s.repo.SoftDelete(opCtx, id)
	if err != nil {
		return pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "delete voucher")
	}
	if !deleted {
		return pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
	}
	s.logg.Info(s.logg.WithVoucherID(ctx, id.String()), "voucher deleted")
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.VoucherDefinition, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.load(opCtx, id)
}

func (s *service) ListActive(ctx context.Context) ([]models.VoucherDefinition, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	defs, err := s.repo.ListActive(opCtx)
	if err != nil {
		return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "list vouchers")
	}
	if defs == nil {
		defs = []models.VoucherDefinition{}
	}
	return defs, nil
}

func (s *service) Redeem(ctx context.Context, userID string, voucherID uuid.UUID) (*Redemption, error) {
	redemption, err := s.redeem(ctx, userID, voucherID)
	if err != nil {
		result := string(pkgerrors.CodeInternal)
		if typed := pkgerrors.As(err); typed != nil {
			result = string(typed.Code())
		}
		s.metrics.IncRedemption(result)
		return nil, err
	}
	s.metrics.IncRedemption("success")
	return redemption, nil
}

func (s *service) redeem(ctx context.Context, userID string, voucherID uuid.UUID) (*Redemption, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	ctx = s.logg.WithVoucherID(s.logg.WithUserID(ctx, userID), voucherID.String())

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	def, err := s.load(opCtx, voucherID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if IsExpired(def.ExpiresAt, now) {
		return nil, pkgerrors.New(pkgerrors.CodeVoucherExpired, "voucher expired").
			WithDetails(map[string]any{"voucher_id": def.ID, "expires_at": def.ExpiresAt})
	}

	var issuance models.VoucherIssuance
	activity, err := s.ledger.Debit(ctx, ledger.DebitInput{
		UserID:           userID,
		Points:           def.PointsRequired,
		RelatedVoucherID: def.ID,
		Reason:           fmt.Sprintf("redeemed voucher %s", def.Code),
		Attach: func(ctx context.Context, tx *gorm.DB, record *models.ActivityRecord) error {
			repo := s.repo.WithTx(tx)
			// The definition may have been deleted since it was loaded.
			current, err := repo.FindActiveByID(ctx, def.ID)
			if err != nil {
				if db.IsNotFound(err) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
				}
				return err
			}
			if err := checkUnchangedForRedeem(def, current, now); err != nil {
				return err
			}
			issuance = models.VoucherIssuance{
				ID:                  uuid.New(),
				UserID:              userID,
				ActivityID:          record.ID,
				VoucherDefinitionID: current.ID,
				Title:               current.Title,
				Code:                current.Code,
				Discount:            current.Discount,
				PointsSpent:         current.PointsRequired,
				ExpiresAt:           current.ExpiresAt,
				RedeemedAt:          record.CreatedAt,
			}
			return repo.CreateIssuance(ctx, &issuance)
		},
	})
	if err != nil {
		return nil, err
	}

	redemption := &Redemption{Issuance: issuance, Activity: *activity}
	if balance, err := s.ledger.Balance(ctx, userID); err == nil {
		redemption.Balance = &balance
	} else {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "balance unavailable after redemption")
	}

	s.logg.Info(s.logg.WithField(ctx, "points", def.PointsRequired), "voucher redeemed")
	return redemption, nil
}

// checkUnchangedForRedeem rejects a redemption whose definition was edited
// between the initial load and the debit, so the issuance never records a
// price or expiry other than the one the user was charged against.
func checkUnchangedForRedeem(loaded, current *models.VoucherDefinition, now time.Time) error {
	if IsExpired(current.ExpiresAt, now) {
		return pkgerrors.New(pkgerrors.CodeVoucherExpired, "voucher expired").
			WithDetails(map[string]any{"voucher_id": current.ID, "expires_at": current.ExpiresAt})
	}
	if current.PointsRequired != loaded.PointsRequired {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "voucher changed during redemption").
			WithDetails(map[string]any{
				"voucher_id":      current.ID,
				"points_required": current.PointsRequired,
				"points_charged":  loaded.PointsRequired,
			})
	}
	return nil
}

func (s *service) ListIssuances(ctx context.Context, userID string) ([]models.VoucherIssuance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	issuances, err := s.repo.ListIssuancesByUser(opCtx, userID)
	if err != nil {
		return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "list issuances")
	}
	if issuances == nil {
		issuances = []models.VoucherIssuance{}
	}
	return issuances, nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.VoucherDefinition, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher id is required")
	}
	def, err := s.repo.FindActiveByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
		}
		return nil, pkgerrors.Ensure(pkgerrors.CodeUnavailable, err, "load voucher")
	}
	return def, nil
}

func (s *service) validateExpiry(raw string) (time.Time, error) {
	expiresAt, err := ParseExpiry(raw)
	if err != nil {
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error()).
			WithDetails(map[string]any{"field": "expires_at"})
	}
	if IsExpired(expiresAt, s.now().UTC()) {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "expiry must be in the future").
			WithDetails(map[string]any{"field": "expires_at"})
	}
	return expiresAt, nil
}

func validateTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "title is required").
			WithDetails(map[string]any{"field": "title"})
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("title must be at most %d characters", MaxTitleLength)).
			WithDetails(map[string]any{"field": "title"})
	}
	return title, nil
}

func validateDiscount(raw string) (string, error) {
	discount := strings.TrimSpace(raw)
	if discount == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "discount is required").
			WithDetails(map[string]any{"field": "discount"})
	}
	if utf8.RuneCountInString(discount) > MaxDiscountLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("discount must be at most %d characters", MaxDiscountLength)).
			WithDetails(map[string]any{"field": "discount"})
	}
	return discount, nil
}

func validatePoints(points int64) error {
	if points <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "points required must be positive").
			WithDetails(map[string]any{"field": "points_required"})
	}
	return nil
}

func duplicateCode(code string) error {
	return pkgerrors.New(pkgerrors.CodeDuplicateCode, "voucher code already in use").
		WithDetails(map[string]any{"code": code})
}
