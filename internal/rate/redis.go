package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] = counter key
// ARGV[1] = window in milliseconds
//
// Returns {count, pttl}.
var incrWindowLua = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// KEYS[1] = counter key
//
// Returns {count, pttl}; {0, 0} when the key is absent.
var peekWindowLua = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return {0, 0}
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  ttl = 0
end
return {tonumber(v), ttl}
`)

// RedisCounter is a [CounterStore] shared across processes.
type RedisCounter struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCounter creates a counter store on client. prefix is prepended to
// every key.
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	return &RedisCounter{
		redis:  client,
		prefix: prefix,
	}
}

// Incr implements [CounterStore].
func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrWindowLua.Run(ctx, r.redis, []string{r.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected script reply length %d", len(res))
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// Peek implements [CounterStore].
func (r *RedisCounter) Peek(ctx context.Context, key string) (int64, time.Duration, error) {
	res, err := peekWindowLua.Run(ctx, r.redis, []string{r.prefix + key}).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected script reply length %d", len(res))
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// Reset implements [CounterStore].
func (r *RedisCounter) Reset(ctx context.Context, key string) error {
	return r.redis.Del(ctx, r.prefix+key).Err()
}
