package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreEnforcesLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := store.Hit(ctx, "query:alice", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 3-(i+1), decision.Remaining)
	}

	decision, err := store.Hit(ctx, "query:alice", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestMemoryStoreDeniedHitsAreNotCounted(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now()
	store.now = func() time.Time { return base }
	ctx := context.Background()

	_, err := store.Hit(ctx, "query:bob", 1, time.Hour)
	require.NoError(t, err)

	// Repeated denials must not inflate the bucket.
	for i := 0; i < 5; i++ {
		decision, err := store.Hit(ctx, "query:bob", 1, time.Hour)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	}
	assert.Equal(t, 1, store.buckets["query:bob"].count)
}

func TestMemoryStoreWindowReset(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now()
	now := base
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := store.Hit(ctx, "upload:carol", 1, time.Hour)
	require.NoError(t, err)

	decision, err := store.Hit(ctx, "upload:carol", 1, time.Hour)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	now = base.Add(time.Hour + time.Second)
	decision, err = store.Hit(ctx, "upload:carol", 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestMemoryStoreSweepsExpiredBuckets(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now()
	now := base
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for _, key := range []string{"query:alice", "query:bob", "query:carol"} {
		_, err := store.Hit(ctx, key, 3, time.Hour)
		require.NoError(t, err)
	}
	assert.Len(t, store.buckets, 3)

	now = base.Add(time.Hour + time.Second)
	_, err := store.Hit(ctx, "query:dave", 3, time.Hour)
	require.NoError(t, err)

	// Abandoned identities are dropped once their window elapses.
	assert.Len(t, store.buckets, 1)
	assert.Contains(t, store.buckets, "query:dave")
}

func TestMemoryStoreIsolatesKeys(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Hit(ctx, "query:dave", 1, time.Hour)
	require.NoError(t, err)

	denied, err := store.Hit(ctx, "query:dave", 1, time.Hour)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	other, err := store.Hit(ctx, "query:erin", 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	upload, err := store.Hit(ctx, "upload:dave", 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, upload.Allowed, "actions must not share buckets")
}

func TestRedisStoreEnforcesLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := store.Hit(ctx, "query:alice", 2, time.Hour)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	decision, err := store.Hit(ctx, "query:alice", 2, time.Hour)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, time.Hour)
}

func TestRedisStoreDeniedHitsAreNotCounted(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client)
	ctx := context.Background()

	_, err := store.Hit(ctx, "upload:bob", 1, time.Hour)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		decision, err := store.Hit(ctx, "upload:bob", 1, time.Hour)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	}

	keys := mr.Keys()
	require.Len(t, keys, 1)
	val, err := mr.Get(keys[0])
	require.NoError(t, err)
	assert.Equal(t, "1", val)
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, int, time.Duration) (Decision, error) {
	return Decision{}, errors.New("store down")
}

func TestLimiterFailsOpenOnStoreError(t *testing.T) {
	limiter := NewLimiter(failingStore{}, DefaultLimits())

	decision := limiter.Admit(context.Background(), "alice", ActionQuery)
	assert.True(t, decision.Allowed)
}

func TestLimiterActionLimits(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), Limits{Query: 2, Upload: 1, Window: time.Hour})
	ctx := context.Background()

	assert.True(t, limiter.Admit(ctx, "alice", ActionUpload).Allowed)
	assert.False(t, limiter.Admit(ctx, "alice", ActionUpload).Allowed)

	// Query budget is independent of the exhausted upload budget.
	assert.True(t, limiter.Admit(ctx, "alice", ActionQuery).Allowed)
	assert.True(t, limiter.Admit(ctx, "alice", ActionQuery).Allowed)
	assert.False(t, limiter.Admit(ctx, "alice", ActionQuery).Allowed)
}
