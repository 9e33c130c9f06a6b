package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ecobricks/rewards-backend/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestSetNXOnlyFirstWins(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	set, err := client.SetNX(ctx, "k", "1", time.Minute)
	require.NoError(t, err)
	require.True(t, set)

	set, err = client.SetNX(ctx, "k", "2", time.Minute)
	require.NoError(t, err)
	require.False(t, set)

	value, err := client.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "1", value)

	require.NoError(t, client.Del(ctx, "k"))
	_, err = client.Get(ctx, "k")
	require.True(t, errors.Is(err, Nil))
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	require.Error(t, client.Ping(context.Background()))
	_, err := client.Get(context.Background(), "k")
	require.Error(t, err)
	require.NoError(t, client.Close())
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	require.Equal(t, "rw:idempotency:scope:id", client.IdempotencyKey("scope", "id"))
	require.Equal(t, "rw:idempotency:id", client.IdempotencyKey(" ", "id"), "empty parts are skipped")
	require.Equal(t, client.IdempotencyKey("a", "b"), NewMemoryStore().IdempotencyKey("a", "b"))
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	require.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/3", PoolSize: 7, DialTimeout: time.Second})
	require.NoError(t, err)
	require.Equal(t, 3, opts.DB)
	require.Equal(t, 7, opts.PoolSize)
	require.Equal(t, time.Second, opts.DialTimeout)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6379", DB: 2})
	require.NoError(t, err)
	require.Equal(t, "cache:6379", opts.Addr)
	require.Equal(t, 2, opts.DB)
}

func TestMemoryStoreExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	set, err := store.SetNX(ctx, "k", []byte("v"), time.Minute)
	require.NoError(t, err)
	require.True(t, set)

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", value)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, Nil)

	set, err = store.SetNX(ctx, "k", "again", 0)
	require.NoError(t, err)
	require.True(t, set)
}

func TestMemoryStoreSetOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	set, err := store.SetNX(ctx, "k", "pending", time.Minute)
	require.NoError(t, err)
	require.True(t, set)

	require.NoError(t, store.Set(ctx, "k", "settled", time.Hour))
	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "settled", value)
}

type mockCmdable struct {
	data map[string]string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: make(map[string]string)}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
