package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

// ErrLockNotHeld is returned when releasing a lock that expired or passed to another holder
var ErrLockNotHeld = errors.New("lock not held")

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection for the readiness check
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// MarkNonce records a request nonce for ttl. It returns false when the nonce
// was already recorded, which makes the request a replay.
func (c *Client) MarkNonce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, nonceKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark nonce failed: %w", err)
	}
	return ok, nil
}

// AcquireLock acquires a distributed lock. The returned token must be passed
// to ReleaseLock.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock failed: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, key, token string) error {
	deleted, err := c.releaseScript.Run(ctx, c.rdb, []string{lockKey(key)}, token).Int()
	if err != nil {
		return fmt.Errorf("release lock failed: %w", err)
	}
	if deleted == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func lockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

func nonceKey(key string) string {
	return fmt.Sprintf("nonce:%s", key)
}
