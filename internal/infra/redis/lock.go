package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockHeld is returned when the lock could not be acquired within the
// retry budget.
var ErrLockHeld = errors.New("lock already held")

// RedisLocker is the cross-process guard around a project's model-state swap.
// Within one controller instance the project gate already serializes swaps;
// this covers multiple instances sharing a redis.
type RedisLocker struct {
	cli *Client
	ns  string
}

func NewLocker(c *Client, namespace string) *RedisLocker {
	if namespace == "" {
		namespace = "mlctl"
	}
	return &RedisLocker{cli: c, ns: namespace}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	for i := 0; i < 5; i++ { // 5 tries
		ok, err := l.cli.cli.SetNX(ctx, l.ns+":lock:"+key, token, ttl).Result()
		if err != nil {
			continue
		}
		if ok {
			return token, nil
		}
		time.Sleep(50 * time.Millisecond) // wait before retrying
	}
	return "", ErrLockHeld
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli.cli, []string{l.ns + ":lock:" + key}, token).Result()
	return err
}
