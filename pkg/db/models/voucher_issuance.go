package models

import (
	"time"

	"github.com/google/uuid"
)

// VoucherIssuance snapshots a voucher at redemption time. Later edits or
// deletion of the definition leave it untouched.
type VoucherIssuance struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID              string    `gorm:"column:user_id;type:text;not null;index" json:"user_id"`
	ActivityID          uuid.UUID `gorm:"column:activity_id;type:uuid;not null;uniqueIndex:idx_voucher_issuances_activity_id" json:"activity_id"`
	VoucherDefinitionID uuid.UUID `gorm:"column:voucher_definition_id;type:uuid;not null" json:"voucher_definition_id"`
	Title               string    `gorm:"column:title;type:text;not null" json:"title"`
	Code                string    `gorm:"column:code;type:text;not null" json:"code"`
	Discount            string    `gorm:"column:discount;type:text;not null" json:"discount"`
	PointsSpent         int64     `gorm:"column:points_spent;not null" json:"points_spent"`
	ExpiresAt           time.Time `gorm:"column:expires_at;not null" json:"expires_at"`
	RedeemedAt          time.Time `gorm:"column:redeemed_at;not null" json:"redeemed_at"`
}

func (VoucherIssuance) TableName() string { return "voucher_issuances" }
