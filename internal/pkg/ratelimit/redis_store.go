package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// hitScript increments the counter and starts the expiry on the first hit.
// A key that lost its TTL gets a fresh one so it cannot block forever.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisStore shares windows between instances. The window length is only
// known on Hit, so Get reports Start as zero.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(action, actorKey string) string {
	return fmt.Sprintf("%s%s:%s", redisKeyPrefix, action, actorKey)
}

func (s *RedisStore) Get(ctx context.Context, action, actorKey string, now time.Time) (Window, bool, error) {
	key := redisKey(action, actorKey)
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Window{}, false, err
	}
	hits, err := getCmd.Int64()
	if errors.Is(err, redis.Nil) {
		return Window{}, false, nil
	}
	if err != nil {
		return Window{}, false, err
	}
	ttl := ttlCmd.Val()
	if ttl <= 0 {
		return Window{}, false, nil
	}
	return Window{Hits: hits, End: now.Add(ttl)}, true, nil
}

func (s *RedisStore) Hit(ctx context.Context, action, actorKey string, window time.Duration, now time.Time) (Window, error) {
	res, err := hitScript.Run(ctx, s.client, []string{redisKey(action, actorKey)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("rate limit hit: %w", err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("rate limit hit: unexpected reply %v", res)
	}
	end := now.Add(time.Duration(res[1]) * time.Millisecond)
	return Window{Hits: res[0], Start: end.Add(-window), End: end}, nil
}

func (s *RedisStore) Expire(ctx context.Context, action, actorKey string) error {
	return s.client.Del(ctx, redisKey(action, actorKey)).Err()
}
