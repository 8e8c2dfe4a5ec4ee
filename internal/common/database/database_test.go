// internal/common/database/database_test.go
package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"apply-workers/internal/common/config"
	"apply-workers/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithBackoff_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, 5, time.Millisecond, logger.NewTestLogger(t), "Redis connection")

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_GivesUp(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), func() error {
		calls++
		return errors.New("connection refused")
	}, 3, time.Millisecond, logger.NewNoOpLogger(), "PostgreSQL connection")

	assert.ErrorContains(t, err, "PostgreSQL connection failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithBackoff(ctx, func() error {
		return errors.New("down")
	}, 10, time.Hour, logger.NewNoOpLogger(), "Redis connection")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRedis_PingAgainstMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedis(config.RedisConfig{Address: mr.Addr(), PoolSize: 2})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()))
}

func TestNewRedis_URLTakesPrecedence(t *testing.T) {
	client, err := NewRedis(config.RedisConfig{URL: "redis://:secret@cache:6380/2", Address: "ignored:6379"})
	require.NoError(t, err)
	defer client.Close()

	opts := client.Client.Options()
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.True(t, opts.ContextTimeoutEnabled)
}

func TestNewRedis_InvalidURL(t *testing.T) {
	_, err := NewRedis(config.RedisConfig{URL: "http://nope"})
	assert.ErrorContains(t, err, "invalid redis url")
}
