package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecobricks/rewards-backend/pkg/enums"
)

// Donation is a user-submitted drop-off awaiting administrator review.
type Donation struct {
	ID         uuid.UUID            `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID     string               `gorm:"column:user_id;type:text;not null;index" json:"user_id"`
	Kg         decimal.Decimal      `gorm:"column:kg;type:numeric(12,3);not null" json:"kg"`
	Note       string               `gorm:"column:note;type:text;not null;default:''" json:"note,omitempty"`
	Status     enums.DonationStatus `gorm:"column:status;type:text;not null;index" json:"status"`
	ReviewedBy *string              `gorm:"column:reviewed_by;type:text" json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time           `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt  time.Time            `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Donation) TableName() string { return "donations" }
