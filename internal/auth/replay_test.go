package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryReplayStoreRecordAndSeen(t *testing.T) {
	s := NewMemoryReplayStore(time.Minute)

	assert.False(t, s.Seen("k"))
	s.Record("k")
	assert.True(t, s.Seen("k"))
}

func TestMemoryReplayStoreLazyEviction(t *testing.T) {
	now := time.Unix(1_000, 0)
	s := NewMemoryReplayStore(5 * time.Minute)
	s.now = func() time.Time { return now }

	ok, err := s.CheckAndRecord(context.Background(), "old")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(5*time.Minute + time.Second)
	assert.False(t, s.Seen("old"))
	assert.Equal(t, 1, s.Len())

	ok, err = s.CheckAndRecord(context.Background(), "new")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryReplayStoreWithinRetention(t *testing.T) {
	now := time.Unix(1_000, 0)
	s := NewMemoryReplayStore(5 * time.Minute)
	s.now = func() time.Time { return now }

	ok, _ := s.CheckAndRecord(context.Background(), "k")
	require.True(t, ok)

	now = now.Add(5 * time.Minute)
	ok, _ = s.CheckAndRecord(context.Background(), "k")
	assert.False(t, ok)
}

func TestMemoryReplayStoreEvict(t *testing.T) {
	now := time.Unix(1_000, 0)
	s := NewMemoryReplayStore(time.Hour)
	s.now = func() time.Time { return now }

	s.Record("a")
	now = now.Add(2 * time.Minute)
	s.Record("b")

	s.Evict(time.Minute)
	assert.False(t, s.Seen("a"))
	assert.True(t, s.Seen("b"))
}

func TestMemoryReplayStoreCheckAndRecordIsAtomic(t *testing.T) {
	s := NewMemoryReplayStore(time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := s.CheckAndRecord(context.Background(), "same")
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

type fakeNonceMarker struct {
	keys map[string]time.Duration
}

func (f *fakeNonceMarker) MarkNonce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = ttl
	return true, nil
}

func TestRedisReplayStoreUsesRetentionAsTTL(t *testing.T) {
	marker := &fakeNonceMarker{keys: map[string]time.Duration{}}
	s := NewRedisReplayStore(marker, 0)

	ok, err := s.CheckAndRecord(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, DefaultReplayRetention, marker.keys["k"])

	ok, err = s.CheckAndRecord(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
