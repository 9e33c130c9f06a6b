package rewardconfig

import (
	"context"

	"github.com/ecobricks/rewards-backend/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists the single reward configuration row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context) (*models.RewardConfig, error)
	Upsert(ctx context.Context, cfg *models.RewardConfig) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a configuration repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Get(ctx context.Context) (*models.RewardConfig, error) {
	var cfg models.RewardConfig
	if err := r.db.WithContext(ctx).
		Where("id = ?", models.RewardConfigRowID).
		Take(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *repository) Upsert(ctx context.Context, cfg *models.RewardConfig) error {
	cfg.ID = models.RewardConfigRowID
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"points_per_kg", "updated_by", "updated_at"}),
		}).
		Create(cfg).Error
}
