package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store on a Redis server via go-redis. Every error
// from the client is wrapped with ErrUnavailable except redis.Nil,
// which maps to empty results — absence is not a dependency failure.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the given address (host:port) and database.
// The connection is verified with a ping before returning.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w: %v", addr, ErrUnavailable, err)
	}
	return &Redis{client: client}, nil
}

func wrapErr(op string, err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

func (r *Redis) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	return wrapErr("hset "+key, r.client.HSet(ctx, key, args).Err())
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapErr("hgetall "+key, err)
	}
	return res, nil
}

func (r *Redis) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	n, err := r.client.HIncrBy(ctx, key, field, incr).Result()
	return n, wrapErr("hincrby "+key, err)
}

func (r *Redis) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := r.client.SAdd(ctx, key, args...).Result()
	return n, wrapErr("sadd "+key, err)
}

func (r *Redis) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := r.client.SRem(ctx, key, args...).Result()
	return n, wrapErr("srem "+key, err)
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	res, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrapErr("smembers "+key, err)
	}
	return res, nil
}

func (r *Redis) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, key, member).Result()
	return ok, wrapErr("sismember "+key, err)
}

func (r *Redis) SCard(ctx context.Context, key string) (int64, error) {
	n, err := r.client.SCard(ctx, key).Result()
	return n, wrapErr("scard "+key, err)
}

func (r *Redis) SScan(ctx context.Context, key string, cursor uint64, count int64) ([]string, uint64, error) {
	members, next, err := r.client.SScan(ctx, key, cursor, "", count).Result()
	if err != nil {
		return nil, 0, wrapErr("sscan "+key, err)
	}
	return members, next, nil
}

func (r *Redis) ZAdd(ctx context.Context, key, member string, score float64) error {
	return wrapErr("zadd "+key, r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (r *Redis) ZRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrapErr("zrem "+key, r.client.ZRem(ctx, key, args...).Err())
}

func (r *Redis) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	zs, err := r.client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrapErr("zrevrange "+key, err)
	}
	out := make([]Member, 0, len(zs))
	for _, z := range zs {
		m, _ := z.Member.(string)
		out = append(out, Member{Member: m, Score: z.Score})
	}
	return out, nil
}

func (r *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := r.client.ZCard(ctx, key).Result()
	return n, wrapErr("zcard "+key, err)
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	return wrapErr("del", r.client.Del(ctx, keys...).Err())
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, wrapErr("exists "+key, err)
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrapErr("expire "+key, r.client.Expire(ctx, key, ttl).Err())
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	return n, wrapErr("incr "+key, err)
}

func (r *Redis) Ping(ctx context.Context) error {
	return wrapErr("ping", r.client.Ping(ctx).Err())
}

func (r *Redis) Close() error {
	return r.client.Close()
}
