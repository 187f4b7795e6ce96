package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkNonce(t *testing.T) {
	t.Skip("Integration test - requires redis")

	c, err := NewClient("localhost:6379", "", 15)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	key := "1714550000_" + time.Now().Format(time.RFC3339Nano)

	fresh, err := c.MarkNonce(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = c.MarkNonce(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestOrderLock(t *testing.T) {
	t.Skip("Integration test - requires redis")

	c, err := NewClient("localhost:6379", "", 15)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	token, ok, err := c.AcquireLock(ctx, "order:R1:O1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = c.AcquireLock(ctx, "order:R1:O1", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "order:R1:O1", token))
}

func TestReleaseLockKeepsOtherHoldersLock(t *testing.T) {
	t.Skip("Integration test - requires redis")

	c, err := NewClient("localhost:6379", "", 15)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	stale, ok, err := c.AcquireLock(ctx, "order:R1:O2", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)
	current, ok, err := c.AcquireLock(ctx, "order:R1:O2", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, c.ReleaseLock(ctx, "order:R1:O2", stale), ErrLockNotHeld)
	_, ok, err = c.AcquireLock(ctx, "order:R1:O2", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "order:R1:O2", current))
}

func TestNonceKey(t *testing.T) {
	assert.Equal(t, "nonce:1714550000_abc", nonceKey("1714550000_abc"))
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "lock:order:R1:O1", lockKey("order:R1:O1"))
}

func TestReleaseLockScriptComparesToken(t *testing.T) {
	assert.Contains(t, releaseLockScript, `redis.call("GET", KEYS[1]) == ARGV[1]`)
	assert.Contains(t, releaseLockScript, `redis.call("DEL", KEYS[1])`)
}
