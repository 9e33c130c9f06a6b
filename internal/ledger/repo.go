package ledger

import (
	"context"
	"time"

	"github.com/ecobricks/rewards-backend/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository manages persistence for reward accounts and activity records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateActivity(ctx context.Context, record *models.ActivityRecord) error
	FindByDonationEventID(ctx context.Context, eventID string) (*models.ActivityRecord, error)
	ListByUser(ctx context.Context, userID string) ([]models.ActivityRecord, error)
	Balance(ctx context.Context, userID string) (int64, error)
	// Increment adds delta to the balance, creating the account on first use.
	Increment(ctx context.Context, userID string, delta int64, now time.Time) error
	// Decrement subtracts points only when the balance covers them. It
	// reports false, with no change applied, when it does not.
	Decrement(ctx context.Context, userID string, points int64, now time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateActivity(ctx context.Context, record *models.ActivityRecord) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(record).Error
}

func (r *repository) FindByDonationEventID(ctx context.Context, eventID string) (*models.ActivityRecord, error) {
	var record models.ActivityRecord
	if err := r.db.WithContext(ctx).
		Where("donation_event_id = ?", eventID).
		Take(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListByUser(ctx context.Context, userID string) ([]models.ActivityRecord, error) {
	var records []models.ActivityRecord
	if err := r.db.WithContext(ctx).
		Preload("Issuance").
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) Balance(ctx context.Context, userID string) (int64, error) {
	var balances []int64
	if err := r.db.WithContext(ctx).
		Model(&models.RewardAccount{}).
		Where("user_id = ?", userID).
		Limit(1).
		Pluck("points_balance", &balances).Error; err != nil {
		return 0, err
	}
	if len(balances) == 0 {
		return 0, nil
	}
	return balances[0], nil
}

func (r *repository) Increment(ctx context.Context, userID string, delta int64, now time.Time) error {
	account := models.RewardAccount{
		UserID:        userID,
		PointsBalance: delta,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"points_balance": gorm.Expr("reward_accounts.points_balance + excluded.points_balance"),
				"updated_at":     now,
			}),
		}).
		Create(&account).Error
}

func (r *repository) Decrement(ctx context.Context, userID string, points int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.RewardAccount{}).
		Where("user_id = ? AND points_balance >= ?", userID, points).
		Updates(map[string]any{
			"points_balance": gorm.Expr("points_balance - ?", points),
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
