package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zawadi/giving-gateway/pkg/redis"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func TestIdempotencyService_AcquireDispatchLock(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	service := NewIdempotencyService(adapter, DefaultIdempotencyConfig())
	ctx := context.Background()

	t.Run("first attempt succeeds", func(t *testing.T) {
		dc, err := service.AcquireDispatchLock(ctx, "ws_CO_0001")
		require.NoError(t, err)
		require.NotNil(t, dc)
		assert.Equal(t, "ws_CO_0001", dc.DedupeKey)
		assert.Equal(t, 0, dc.RetryCount)
		assert.False(t, dc.IsRetry)
		assert.True(t, dc.lockAcquired)
	})

	t.Run("concurrent consumer is locked out", func(t *testing.T) {
		dc, err := service.AcquireDispatchLock(ctx, "ws_CO_0001")
		assert.ErrorIs(t, err, ErrLockAcquireFailed)
		assert.Nil(t, dc)
	})
}

func TestIdempotencyService_MarkSent(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	service := NewIdempotencyService(adapter, DefaultIdempotencyConfig())
	ctx := context.Background()

	dc, err := service.AcquireDispatchLock(ctx, "ws_CO_0002")
	require.NoError(t, err)

	require.NoError(t, service.MarkSent(ctx, dc))

	sent, err := service.IsSent(ctx, "ws_CO_0002")
	require.NoError(t, err)
	assert.True(t, sent)

	// A replayed job must be refused, not re-sent.
	dc2, err := service.AcquireDispatchLock(ctx, "ws_CO_0002")
	assert.ErrorIs(t, err, ErrAlreadySent)
	assert.Nil(t, dc2)
}

func TestIdempotencyService_MarkFailure(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	config := DefaultIdempotencyConfig()
	config.MaxRetries = 3
	service := NewIdempotencyService(adapter, config)
	ctx := context.Background()

	dc1, err := service.AcquireDispatchLock(ctx, "MAN-20260828-1A2B3C")
	require.NoError(t, err)
	assert.Equal(t, 0, dc1.RetryCount)

	require.NoError(t, service.MarkFailure(ctx, dc1, errors.New("provider timeout")))

	dc2, err := service.AcquireDispatchLock(ctx, "MAN-20260828-1A2B3C")
	require.NoError(t, err)
	assert.Equal(t, 1, dc2.RetryCount)
	assert.True(t, dc2.IsRetry)
}

func TestIdempotencyService_MaxRetriesExceeded(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	config := DefaultIdempotencyConfig()
	config.MaxRetries = 2
	service := NewIdempotencyService(adapter, config)
	ctx := context.Background()

	for i := 0; i < config.MaxRetries; i++ {
		dc, err := service.AcquireDispatchLock(ctx, "ws_CO_0003")
		require.NoError(t, err)
		require.NoError(t, service.MarkFailure(ctx, dc, nil))
	}

	dc, err := service.AcquireDispatchLock(ctx, "ws_CO_0003")
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Nil(t, dc)
}

func TestIdempotencyService_ReleaseLock(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	service := NewIdempotencyService(adapter, DefaultIdempotencyConfig())
	ctx := context.Background()

	dc, err := service.AcquireDispatchLock(ctx, "ws_CO_0004")
	require.NoError(t, err)

	require.NoError(t, service.ReleaseLock(ctx, dc))
	assert.False(t, dc.lockAcquired)

	dc2, err := service.AcquireDispatchLock(ctx, "ws_CO_0004")
	require.NoError(t, err)
	require.NotNil(t, dc2)
}

func TestIdempotencyService_GetRetryCount(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	service := NewIdempotencyService(adapter, DefaultIdempotencyConfig())
	ctx := context.Background()

	count, err := service.GetRetryCount(ctx, "ws_CO_0005")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	dc, err := service.AcquireDispatchLock(ctx, "ws_CO_0005")
	require.NoError(t, err)
	require.NoError(t, service.MarkFailure(ctx, dc, nil))

	count, err = service.GetRetryCount(ctx, "ws_CO_0005")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
