package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript opens the window on the first failure so the counter and its
// expiry are set atomically.
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisAttemptLimiter is a fixed-window AttemptLimiter shared across instances.
type RedisAttemptLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

func NewRedisAttemptLimiter(client *redis.Client, maxFailures int, window time.Duration) *RedisAttemptLimiter {
	return &RedisAttemptLimiter{client: client, max: maxFailures, window: window}
}

func (l *RedisAttemptLimiter) Allowed(ctx context.Context, key string) (bool, error) {
	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read failure count: %w", err)
	}
	return count < l.max, nil
}

func (l *RedisAttemptLimiter) RecordFailure(ctx context.Context, key string) (int, error) {
	count, err := incrScript.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}
	return count, nil
}
