package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect builds a client from a redis:// URL or a bare host:port and
// checks that the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("cache: parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return client, nil
}

// Redis keeps idempotency records in Redis so every API replica sees them.
// Records are JSON-encoded Responses under "<prefix>:idem:<key>".
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(Response{})
	if err != nil {
		return false, err
	}
	ok, err := r.client.SetNX(ctx, r.key(key), raw, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: reserve %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Load(ctx context.Context, key string) (Response, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, fmt.Errorf("cache: load %s: %w", key, err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return resp, true, nil
}

func (r *Redis) Save(ctx context.Context, key string, resp Response, ttl time.Duration) error {
	resp.Done = true
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: save %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: release %s: %w", key, err)
	}
	return nil
}

func (r *Redis) key(key string) string {
	return r.prefix + ":idem:" + key
}
