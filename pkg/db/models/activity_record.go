package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecobricks/rewards-backend/pkg/enums"
)

// ActivityRecord is an immutable entry in a user's reward history.
// Seq breaks ties between records sharing a timestamp.
type ActivityRecord struct {
	Seq              int64                `gorm:"column:seq;primaryKey;autoIncrement" json:"-"`
	ID               uuid.UUID            `gorm:"column:id;type:uuid;not null;uniqueIndex:idx_reward_activities_id" json:"id"`
	UserID           string               `gorm:"column:user_id;type:text;not null;index:idx_reward_activities_user_created,priority:1" json:"user_id"`
	Type             enums.ActivityType   `gorm:"column:type;type:text;not null" json:"type"`
	Status           enums.ActivityStatus `gorm:"column:status;type:text;not null" json:"status"`
	Kg               *decimal.Decimal     `gorm:"column:kg;type:numeric(12,3)" json:"kg,omitempty"`
	PointsPerKg      *decimal.Decimal     `gorm:"column:points_per_kg;type:numeric(12,4)" json:"points_per_kg,omitempty"`
	PointsDelta      int64                `gorm:"column:points_delta;not null" json:"points_delta"`
	DonationEventID  *string              `gorm:"column:donation_event_id;type:text;uniqueIndex:idx_reward_activities_donation_event_id" json:"donation_event_id,omitempty"`
	RelatedVoucherID *uuid.UUID           `gorm:"column:related_voucher_id;type:uuid" json:"related_voucher_id,omitempty"`
	Reason           string               `gorm:"column:reason;type:text;not null;default:''" json:"reason,omitempty"`
	CreatedAt        time.Time            `gorm:"column:created_at;not null;index:idx_reward_activities_user_created,priority:2" json:"created_at"`

	Issuance *VoucherIssuance `gorm:"foreignKey:ActivityID;references:ID" json:"issuance,omitempty"`
}

func (ActivityRecord) TableName() string { return "reward_activities" }
