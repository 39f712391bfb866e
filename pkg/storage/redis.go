package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisBackend maps plain keys to STRING values and list keys to LISTs,
// all under prefix
type redisBackend struct {
	client *redis.Client
	prefix string
}

func newRedisBackend(ctx context.Context, addr, prefix string) (*redisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	if prefix != "" {
		prefix += ":"
	}
	return &redisBackend{client: client, prefix: prefix}, nil
}

func (r *redisBackend) key(k string) string {
	return r.prefix + k
}

func (r *redisBackend) get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

func (r *redisBackend) set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.key(key), value, 0).Err()
}

func (r *redisBackend) del(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *redisBackend) push(ctx context.Context, key string, value []byte) error {
	return r.client.RPush(ctx, r.key(key), value).Err()
}

func (r *redisBackend) list(ctx context.Context, key string) ([][]byte, error) {
	vals, err := r.client.LRange(ctx, r.key(key), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (r *redisBackend) close() error {
	return r.client.Close()
}
