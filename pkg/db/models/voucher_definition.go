package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VoucherDefinition is a catalog entry users can spend points on.
type VoucherDefinition struct {
	ID             uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Title          string         `gorm:"column:title;type:text;not null" json:"title"`
	Code           string         `gorm:"column:code;type:text;not null;uniqueIndex:idx_voucher_definitions_code_active,where:deleted_at IS NULL" json:"code"`
	Discount       string         `gorm:"column:discount;type:text;not null" json:"discount"`
	PointsRequired int64          `gorm:"column:points_required;not null;check:chk_voucher_definitions_points_required,points_required > 0" json:"points_required"`
	ExpiresAt      time.Time      `gorm:"column:expires_at;not null" json:"expires_at"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (VoucherDefinition) TableName() string { return "voucher_definitions" }
