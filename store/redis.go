package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// casScript swaps the value only when the current value matches ARGV[1].
// ARGV[3] is the new TTL in milliseconds; 0 keeps the key non-expiring.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or cur ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// cadScript deletes the key only when the current value matches ARGV[1].
var cadScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or cur ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// RedisBackend implements Backend on a Redis server or cluster, the
// production deployment target. Single-command operations and scripts give
// the per-key atomicity the presence core relies on.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing Redis client. The caller owns the
// client's lifecycle when it is shared with other components (for example
// the pub/sub event publisher).
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func wrapRedisErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapRedisErr("set "+key, err)
	}
	return nil
}

func (r *RedisBackend) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapRedisErr("setnx "+key, err)
	}
	return ok, nil
}

func (r *RedisBackend) SetWithPrev(ctx context.Context, key string, value []byte, ttl time.Duration) ([]byte, error) {
	prev, err := r.client.SetArgs(ctx, key, value, redis.SetArgs{TTL: ttl, Get: true}).Result()
	if err == redis.Nil {
		return nil, nil // set succeeded, no previous value
	}
	if err != nil {
		return nil, wrapRedisErr("set-get "+key, err)
	}
	return []byte(prev), nil
}

func (r *RedisBackend) CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error) {
	n, err := casScript.Run(ctx, r.client, []string{key}, old, new, ttl.Milliseconds()).Int()
	if err != nil {
		return false, wrapRedisErr("cas "+key, err)
	}
	return n == 1, nil
}

func (r *RedisBackend) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	n, err := cadScript.Run(ctx, r.client, []string{key}, old).Int()
	if err != nil {
		return false, wrapRedisErr("cad "+key, err)
	}
	return n == 1, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, wrapRedisErr("get "+key, err)
	}
	return data, nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return wrapRedisErr("del "+key, err)
	}
	return nil
}

func (r *RedisBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrapRedisErr("scan "+prefix, err)
	}
	return keys, nil
}

func (r *RedisBackend) SetAdd(ctx context.Context, key, member string) error {
	if err := r.client.SAdd(ctx, key, member).Err(); err != nil {
		return wrapRedisErr("sadd "+key, err)
	}
	return nil
}

func (r *RedisBackend) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := r.client.SRem(ctx, key, args...).Err(); err != nil {
		return wrapRedisErr("srem "+key, err)
	}
	return nil
}

func (r *RedisBackend) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrapRedisErr("smembers "+key, err)
	}
	return members, nil
}

func (r *RedisBackend) SetMove(ctx context.Context, src, dst, member string) (bool, error) {
	moved, err := r.client.SMove(ctx, src, dst, member).Result()
	if err != nil {
		return false, wrapRedisErr("smove "+src, err)
	}
	return moved, nil
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return wrapRedisErr("ping", err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
