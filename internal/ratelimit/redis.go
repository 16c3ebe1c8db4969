package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments the counter and starts the window on first use.
// Returns the count and the remaining window in milliseconds.
var hitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if count == 1 or ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore keeps records as expiring counters so several gateway
// processes can share one limit. Key expiry replaces the sweep.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Record, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Record{}, fmt.Errorf("rate limit hit: %w", err)
	}
	if len(res) != 2 {
		return Record{}, fmt.Errorf("rate limit hit: unexpected reply %v", res)
	}
	return Record{
		Count:         int(res[0]),
		WindowResetAt: now.Add(time.Duration(res[1]) * time.Millisecond),
		LastSeen:      now,
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
