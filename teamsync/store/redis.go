package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis keeps keys in a shared redis, so several processes acting for the
// same user (CLI, bots) see one session.
type Redis struct {
	cli    *redis.Client
	prefix string
}

// OpenRedis connects and pings. Keys are stored as teamsync:{namespace}:{key}.
func OpenRedis(ctx context.Context, url, namespace string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if namespace == "" {
		namespace = "default"
	}
	return &Redis{cli: cli, prefix: "teamsync:" + namespace + ":"}, nil
}

func (r *Redis) Close() error {
	return r.cli.Close()
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.cli.Get(ctx, r.prefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.cli.Set(ctx, r.prefix+key, value, 0).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	return r.cli.Del(ctx, full...).Err()
}
