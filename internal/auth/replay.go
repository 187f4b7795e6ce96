package auth

import (
	"context"
	"sync"
	"time"
)

// DefaultReplayRetention is how long a consumed (timestamp, nonce) pair is remembered
const DefaultReplayRetention = 5 * time.Minute

// ReplaySeenStore remembers consumed replay keys. CheckAndRecord must be atomic per key:
// it records key and returns true only if key was not already present.
type ReplaySeenStore interface {
	CheckAndRecord(ctx context.Context, key string) (bool, error)
}

// ReplayKey builds the replay key of a request
func ReplayKey(timestamp, nonce string) string {
	return timestamp + "_" + nonce
}

// MemoryReplayStore is a process-local ReplaySeenStore. It only protects a single
// instance; deployments with several replicas should use RedisReplayStore.
type MemoryReplayStore struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

// NewMemoryReplayStore creates a new in-process replay store
func NewMemoryReplayStore(retention time.Duration) *MemoryReplayStore {
	if retention <= 0 {
		retention = DefaultReplayRetention
	}
	return &MemoryReplayStore{
		entries:   make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

// Seen reports whether key was recorded within the retention window
func (s *MemoryReplayStore) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seenLocked(key)
}

// Record marks key as consumed and evicts expired entries
func (s *MemoryReplayStore) Record(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = s.now()
	s.evictLocked(s.retention)
}

// Evict removes entries older than maxAge
func (s *MemoryReplayStore) Evict(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(maxAge)
}

// Len returns the number of remembered keys
func (s *MemoryReplayStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// CheckAndRecord implements ReplaySeenStore
func (s *MemoryReplayStore) CheckAndRecord(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seenLocked(key) {
		return false, nil
	}
	s.entries[key] = s.now()
	s.evictLocked(s.retention)
	return true, nil
}

func (s *MemoryReplayStore) seenLocked(key string) bool {
	at, ok := s.entries[key]
	if !ok {
		return false
	}
	return s.now().Sub(at) <= s.retention
}

func (s *MemoryReplayStore) evictLocked(maxAge time.Duration) {
	now := s.now()
	for key, at := range s.entries {
		if now.Sub(at) > maxAge {
			delete(s.entries, key)
		}
	}
}

// NonceMarker is the subset of the Redis client used for replay keys
type NonceMarker interface {
	MarkNonce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisReplayStore keeps replay keys in Redis with a TTL, shared by every gateway instance
type RedisReplayStore struct {
	redis     NonceMarker
	retention time.Duration
}

// NewRedisReplayStore creates a Redis-backed replay store
func NewRedisReplayStore(redis NonceMarker, retention time.Duration) *RedisReplayStore {
	if retention <= 0 {
		retention = DefaultReplayRetention
	}
	return &RedisReplayStore{redis: redis, retention: retention}
}

// CheckAndRecord implements ReplaySeenStore
func (s *RedisReplayStore) CheckAndRecord(ctx context.Context, key string) (bool, error) {
	return s.redis.MarkNonce(ctx, key, s.retention)
}
