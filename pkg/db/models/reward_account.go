package models

import "time"

// RewardAccount holds the materialized point balance for a user.
type RewardAccount struct {
	UserID        string    `gorm:"column:user_id;type:text;primaryKey" json:"user_id"`
	PointsBalance int64     `gorm:"column:points_balance;not null;default:0;check:chk_reward_accounts_points_balance,points_balance >= 0" json:"points_balance"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (RewardAccount) TableName() string { return "reward_accounts" }
