package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RewardConfigRowID is the primary key of the single configuration row.
const RewardConfigRowID = 1

// RewardConfig stores the administrator-tunable conversion rate.
type RewardConfig struct {
	ID          int             `gorm:"column:id;primaryKey;autoIncrement:false" json:"-"`
	PointsPerKg decimal.Decimal `gorm:"column:points_per_kg;type:numeric(12,4);not null" json:"points_per_kg"`
	UpdatedBy   *string         `gorm:"column:updated_by;type:text" json:"updated_by,omitempty"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (RewardConfig) TableName() string { return "reward_config" }
