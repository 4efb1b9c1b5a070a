package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis accepts either a redis:// URL or a host:port address.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisBackend stores each record under <prefix>:<kind>:<id>.
type RedisBackend struct {
	client redis.Cmdable
	prefix string
}

func NewRedisBackend(client redis.Cmdable, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "lz"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) key(key Key) string {
	return r.prefix + ":" + string(key.Kind) + ":" + key.ID
}

func (r *RedisBackend) Get(ctx context.Context, key Key) ([]byte, error) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *RedisBackend) Put(ctx context.Context, key Key, body []byte) error {
	return r.client.Set(ctx, r.key(key), body, 0).Err()
}

func (r *RedisBackend) Append(ctx context.Context, key Key, body []byte) error {
	return r.client.Append(ctx, r.key(key), string(body)).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, key Key) error {
	n, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
