package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// acquireScript prunes every window, checks each against its cap and, only
// when all pass, adds the member to every window.
//
// KEYS: one sorted set per window.
// ARGV: now (ms), member, then span (ms) and cap per key.
var acquireScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local member = ARGV[2]
for i = 1, #KEYS do
  local span = tonumber(ARGV[1 + i * 2])
  local cap = tonumber(ARGV[2 + i * 2])
  redis.call('ZREMRANGEBYSCORE', KEYS[i], '-inf', now - span)
  if redis.call('ZCARD', KEYS[i]) >= cap then
    return 0
  end
end
for i = 1, #KEYS do
  local span = tonumber(ARGV[1 + i * 2])
  redis.call('ZADD', KEYS[i], now, member)
  redis.call('PEXPIRE', KEYS[i], span)
end
return 1
`)

// RedisCounter keeps rolling windows in Redis sorted sets, shared by every
// engine instance pointed at the same server.
type RedisCounter struct {
	client redis.Scripter
	now    func() time.Time
}

func NewRedisCounter(client redis.Scripter) *RedisCounter {
	return &RedisCounter{client: client, now: time.Now}
}

func (r *RedisCounter) Acquire(ctx context.Context, windows []Window) (bool, error) {
	keys := make([]string, len(windows))
	args := make([]interface{}, 0, 2+2*len(windows))
	args = append(args, r.now().UnixMilli(), ulid.Make().String())
	for i, w := range windows {
		keys[i] = w.Key
		args = append(args, w.Span.Milliseconds(), w.Cap)
	}

	res, err := acquireScript.Run(ctx, r.client, keys, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to run quota script: %w", err)
	}
	return res == 1, nil
}
