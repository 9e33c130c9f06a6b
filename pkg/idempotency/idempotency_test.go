package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ecobricks/rewards-backend/pkg/redis"
)

type fakeStore struct {
	setNXResult bool
	setNXError  error
	lastKey     string
	lastTTL     time.Duration
}

func (f *fakeStore) Get(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.lastKey = key
	f.lastTTL = ttl
	return f.setNXResult, f.setNXError
}

func (f *fakeStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	_, err := f.SetNX(ctx, key, value, ttl)
	return err
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "rw:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(context.Context, ...string) error {
	return nil
}

func TestNewManagerValidates(t *testing.T) {
	_, err := NewManager(nil, time.Hour)
	require.Error(t, err)
	_, err = NewManager(&fakeStore{}, -time.Second)
	require.Error(t, err)
}

func TestMarkProcessedUsesNamespacedKeyAndTTL(t *testing.T) {
	store := &fakeStore{setNXResult: true}
	manager, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)

	require.NoError(t, manager.MarkProcessed(context.Background(), "donation-approvals", "don-42"))
	require.Equal(t, "rw:idempotency:evt:processed:donation-approvals:don-42", store.lastKey)
	require.Equal(t, 24*time.Hour, store.lastTTL)
}

func TestMarkProcessedError(t *testing.T) {
	manager, err := NewManager(&fakeStore{setNXError: errors.New("boom")}, time.Hour)
	require.NoError(t, err)
	require.Error(t, manager.MarkProcessed(context.Background(), "donation-approvals", "don-42"))
}

func TestManagerRequiresIDs(t *testing.T) {
	manager, err := NewManager(&fakeStore{setNXResult: true}, time.Hour)
	require.NoError(t, err)

	_, err = manager.IsProcessed(context.Background(), "", "don-42")
	require.Error(t, err)
	require.Error(t, manager.MarkProcessed(context.Background(), "donation-approvals", "  "))
}

func TestIsProcessedOnlyAfterMark(t *testing.T) {
	manager, err := NewManager(redis.NewMemoryStore(), time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	processed, err := manager.IsProcessed(ctx, "donation-approvals", "don-7")
	require.NoError(t, err)
	require.False(t, processed)

	require.NoError(t, manager.MarkProcessed(ctx, "donation-approvals", "don-7"))
	require.NoError(t, manager.MarkProcessed(ctx, "donation-approvals", "don-7"))

	processed, err = manager.IsProcessed(ctx, "donation-approvals", "don-7")
	require.NoError(t, err)
	require.True(t, processed)
}
