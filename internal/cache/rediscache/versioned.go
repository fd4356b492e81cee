package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// versionTTL bounds how long an idle version counter lives. A counter that
// expires reads as 0 and only makes pending fills fail.
const versionTTL = 24 * time.Hour

// setIfVersionScript stores ARGV[2] under KEYS[1] only while the counter at
// KEYS[2] still equals ARGV[1].
var setIfVersionScript = redis.NewScript(`
local v = redis.call("GET", KEYS[2])
if not v then v = "0" end
if v ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

func versionKey(key string) string { return key + ":ver" }

// Version returns the invalidation counter of key. Take it before reading the
// source of truth and hand it to SetIfVersion.
func (r *RedisCache) Version(ctx context.Context, key string) (int64, error) {
	v, err := r.c.Get(ctx, versionKey(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "redis get version")
	}
	return v, nil
}

// SetIfVersion fills key unless Invalidate ran since version was read, so a
// slow reader never puts back a value older than the last write.
func (r *RedisCache) SetIfVersion(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (bool, error) {
	n, err := setIfVersionScript.Run(ctx, r.c,
		[]string{key, versionKey(key)},
		version, value, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, errors.Wrap(err, "redis set if version")
	}
	return n == 1, nil
}

// Invalidate bumps the version of key and drops its value.
func (r *RedisCache) Invalidate(ctx context.Context, key string) error {
	vk := versionKey(key)
	_, err := r.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, vk)
		p.Expire(ctx, vk, versionTTL)
		p.Del(ctx, key)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "redis invalidate")
	}
	return nil
}
