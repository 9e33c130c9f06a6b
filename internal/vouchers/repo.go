package vouchers

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ecobricks/rewards-backend/pkg/db/models"
)

// Repository persists voucher definitions and issuance snapshots.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, def *models.VoucherDefinition) error
	Update(ctx context.Context, def *models.VoucherDefinition) error
	// SoftDelete reports false when no active definition matched id.
	SoftDelete(ctx context.Context, id uuid.UUID) (bool, error)
	FindActiveByID(ctx context.Context, id uuid.UUID) (*models.VoucherDefinition, error)
	FindActiveByCode(ctx context.Context, code string) (*models.VoucherDefinition, error)
	ListActive(ctx context.Context) ([]models.VoucherDefinition, error)
	CreateIssuance(ctx context.Context, issuance *models.VoucherIssuance) error
	ListIssuancesByUser(ctx context.Context, userID string) ([]models.VoucherIssuance, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a voucher repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, def *models.VoucherDefinition) error {
	return r.db.WithContext(ctx).Create(def).Error
}

func (r *repository) Update(ctx context.Context, def *models.VoucherDefinition) error {
	return r.db.WithContext(ctx).
		Model(def).
		Select("title", "code", "discount", "points_required", "expires_at", "updated_at").
		Updates(def).Error
}

func (r *repository) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&models.VoucherDefinition{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindActiveByID(ctx context.Context, id uuid.UUID) (*models.VoucherDefinition, error) {
	var def models.VoucherDefinition
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&def).Error; err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *repository) FindActiveByCode(ctx context.Context, code string) (*models.VoucherDefinition, error) {
	var def models.VoucherDefinition
	if err := r.db.WithContext(ctx).Where("code = ?", code).Take(&def).Error; err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *repository) ListActive(ctx context.Context) ([]models.VoucherDefinition, error) {
	var defs []models.VoucherDefinition
	if err := r.db.WithContext(ctx).
		Order("points_required ASC").
		Order("title ASC").
		Order("id ASC").
		Find(&defs).Error; err != nil {
		return nil, err
	}
	return defs, nil
}

func (r *repository) CreateIssuance(ctx context.Context, issuance *models.VoucherIssuance) error {
	return r.db.WithContext(ctx).Create(issuance).Error
}

func (r *repository) ListIssuancesByUser(ctx context.Context, userID string) ([]models.VoucherIssuance, error) {
	var issuances []models.VoucherIssuance
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("redeemed_at DESC").
		Order("id ASC").
		Find(&issuances).Error; err != nil {
		return nil, err
	}
	return issuances, nil
}
