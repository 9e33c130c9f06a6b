package donations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ecobricks/rewards-backend/pkg/db/models"
	"github.com/ecobricks/rewards-backend/pkg/enums"
)

// Repository persists submitted donations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, donation *models.Donation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Donation, error)
	ListByUser(ctx context.Context, userID string) ([]models.Donation, error)
	ListByStatus(ctx context.Context, status enums.DonationStatus) ([]models.Donation, error)
	// MarkReviewed moves a pending donation to status. It reports false when
	// the donation was no longer pending.
	MarkReviewed(ctx context.Context, id uuid.UUID, status enums.DonationStatus, reviewerID string, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a donation repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, donation *models.Donation) error {
	return r.db.WithContext(ctx).Create(donation).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	var donation models.Donation
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&donation).Error; err != nil {
		return nil, err
	}
	return &donation, nil
}

func (r *repository) ListByUser(ctx context.Context, userID string) ([]models.Donation, error) {
	var donations []models.Donation
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id ASC").
		Find(&donations).Error; err != nil {
		return nil, err
	}
	return donations, nil
}

// ListByStatus returns the oldest donations first so review queues drain in order.
func (r *repository) ListByStatus(ctx context.Context, status enums.DonationStatus) ([]models.Donation, error) {
	var donations []models.Donation
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Order("id ASC").
		Find(&donations).Error; err != nil {
		return nil, err
	}
	return donations, nil
}

func (r *repository) MarkReviewed(ctx context.Context, id uuid.UUID, status enums.DonationStatus, reviewerID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Donation{}).
		Where("id = ? AND status = ?", id, enums.DonationStatusPending).
		Updates(map[string]any{
			"status":      status,
			"reviewed_by": reviewerID,
			"reviewed_at": at,
			"updated_at":  at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
