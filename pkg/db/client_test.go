package db

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ecobricks/rewards-backend/pkg/db/dbtest"
	"github.com/ecobricks/rewards-backend/pkg/db/models"
	"gorm.io/gorm"
)

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	conn := dbtest.New(t)
	client := FromConn(conn)

	ctx := context.Background()
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&models.RewardAccount{UserID: "committed", PointsBalance: 5}).Error
	}))

	var count int64
	require.NoError(t, conn.Model(&models.RewardAccount{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&models.RewardAccount{UserID: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	require.NoError(t, conn.Model(&models.RewardAccount{}).Count(&count).Error)
	require.EqualValues(t, 1, count, "rollback should leave one record")
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	conn := dbtest.New(t)
	client := FromConn(conn)

	require.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			if err := tx.Create(&models.RewardAccount{UserID: "panicky"}).Error; err != nil {
				return err
			}
			panic("boom")
		})
	})

	var count int64
	require.NoError(t, conn.Model(&models.RewardAccount{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestPing(t *testing.T) {
	client := FromConn(dbtest.New(t))
	require.NoError(t, client.Ping(context.Background()))
	require.Equal(t, "sqlite", client.Dialect())
}

func TestIsUniqueViolation(t *testing.T) {
	conn := dbtest.New(t)
	eventID := "evt-1"
	first := models.ActivityRecord{ID: uuid.New(), UserID: "u1", Type: "donate", Status: "approved", DonationEventID: &eventID}
	require.NoError(t, conn.Create(&first).Error)

	dup := models.ActivityRecord{ID: uuid.New(), UserID: "u1", Type: "donate", Status: "approved", DonationEventID: &eventID}
	err := conn.Create(&dup).Error
	require.Error(t, err)
	require.True(t, IsUniqueViolation(err, ""))
	require.True(t, IsUniqueViolation(err, "donation_event_id"))
	require.False(t, IsUniqueViolation(err, "voucher_issuances"))

	require.False(t, IsUniqueViolation(nil, ""))
	require.False(t, IsUniqueViolation(errors.New("connection refused"), ""))
}

func TestIsNotFound(t *testing.T) {
	conn := dbtest.New(t)
	var account models.RewardAccount
	err := conn.Where("user_id = ?", "ghost").First(&account).Error
	require.True(t, IsNotFound(err))
}
