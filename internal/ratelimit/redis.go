package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript checks and increments in one atomic step so concurrent requests
// from the same identity cannot both slip under the limit. A denied request
// is not counted.
var hitScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[1]) then
    return -1
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return count
`)

// RedisStore shares fixed-window buckets across processes. Keys carry the
// window ordinal so counts reset cleanly on rollover.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Hit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := s.now()
	windowOrdinal := now.UnixMilli() / window.Milliseconds()
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, windowOrdinal)

	count, err := hitScript.Run(ctx, s.client, []string{redisKey},
		limit, window.Milliseconds()).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}

	if count < 0 {
		windowEnd := time.UnixMilli((windowOrdinal + 1) * window.Milliseconds())
		return Decision{
			Allowed:    false,
			RetryAfter: windowEnd.Sub(now),
		}, nil
	}

	return Decision{
		Allowed:   true,
		Remaining: limit - int(count),
	}, nil
}
