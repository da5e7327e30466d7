package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`

// Redis serializes work on a key across every API replica sharing one Redis.
// A lock expires after TTL so a crashed holder never blocks the key forever.
type Redis struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
	Retry  time.Duration
}

// Do runs fn while holding the lock for key. It waits for a busy lock until
// ctx is done.
func (l Redis) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	if l.Client == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := l.Retry
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	if l.Prefix != "" {
		key = l.Prefix + ":" + key
	}
	token := uuid.NewString()

	for {
		ok, err := l.Client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			break
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	defer func() {
		_ = l.Client.Eval(context.WithoutCancel(ctx), releaseScript, []string{key}, token).Err()
	}()
	return fn(ctx)
}
