package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisClient wraps redis.Client. The cache is strictly an accelerator:
// market titles for alert rendering and the asset-id set the live stream
// subscribes to. Every caller must tolerate a nil client (Redis down at
// startup) and fall through to Postgres.
type RedisClient struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisClient connects to Redis. Returns nil when the server is
// unreachable; the pipeline runs without caching in that case.
func NewRedisClient(host, port, password string, logger *zap.Logger) *RedisClient {
	addr := fmt.Sprintf("%s:%s", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, running without cache",
			zap.String("addr", addr),
			zap.Error(err))
		return nil
	}

	logger.Info("connected to redis", zap.String("addr", addr))
	return &RedisClient{client: client, logger: logger}
}

// Set stores a JSON-encoded value with expiration.
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, jsonBytes, expiration).Err()
}

// Get retrieves a JSON-encoded value into dest.
func (r *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

// Delete removes a key.
func (r *RedisClient) Delete(ctx context.Context, key string) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return r.client.Del(ctx, key).Err()
}

// Exists reports whether a key exists.
func (r *RedisClient) Exists(ctx context.Context, key string) bool {
	if r == nil || r.client == nil {
		return false
	}
	result, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false
	}
	return result > 0
}

// SAdd adds members to a set.
func (r *RedisClient) SAdd(ctx context.Context, key string, members ...string) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.client.SAdd(ctx, key, args...).Err()
}

// SRem removes members from a set.
func (r *RedisClient) SRem(ctx context.Context, key string, members ...string) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.client.SRem(ctx, key, args...).Err()
}

// SMembers returns all members of a set.
func (r *RedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("redis client not initialized")
	}
	return r.client.SMembers(ctx, key).Result()
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	if r != nil && r.client != nil {
		return r.client.Close()
	}
	return nil
}
