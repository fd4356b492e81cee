package rediscache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive leases so only one worker replica runs
// a job at a time.
type Locker struct {
	c *redis.Client
}

func NewLocker(addr string) *Locker {
	return &Locker{c: redis.NewClient(&redis.Options{Addr: addr})}
}

// TryLock acquires key for ttl. When ok is false someone else holds it and
// release is nil. release only deletes the key while this caller still owns it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	token := uuid.NewString()
	ok, err = l.c.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "redis lock")
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.c, []string{key}, token).Err(); err != nil {
			return errors.Wrap(err, "redis unlock")
		}
		return nil
	}, true, nil
}

func (l *Locker) Close() error {
	return l.c.Close()
}
