package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redistrace "github.com/DataDog/dd-trace-go/contrib/redis/go-redis.v9/v2"
	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache interface using Redis
type RedisCache struct {
	client *redis.Client
	config *Config
}

// NewRedisCache connects to Redis and pings it once.
func NewRedisCache(config *Config) (*RedisCache, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	client := redis.NewClient(&redis.Options{
		Addr:            config.Address(),
		Password:        config.Password,
		DB:              config.DB,
		MaxRetries:      config.MaxRetries,
		MinRetryBackoff: config.MinRetryBackoff,
		MaxRetryBackoff: config.MaxRetryBackoff,
		DialTimeout:     config.DialTimeout,
		ReadTimeout:     config.ReadTimeout,
		WriteTimeout:    config.WriteTimeout,
		PoolSize:        config.PoolSize,
		MinIdleConns:    config.MinIdleConns,
		ConnMaxIdleTime: config.MaxIdleTime,
	})
	redistrace.WrapClient(client, redistrace.WithService(config.ServiceName))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", config.Address(), err)
	}

	return &RedisCache{
		client: client,
		config: config,
	}, nil
}

// Get retrieves a value from the cache
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, NewCacheError("failed to get key", true).WithError(err)
	}
	return val, nil
}

// Set stores value; a zero ttl falls back to BlockTTL
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = r.config.BlockTTL
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return NewCacheError("failed to set key", true).WithError(err)
	}
	return nil
}

// Delete removes key, returning ErrKeyNotFound if it did not exist
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	result := r.client.Del(ctx, key)
	if err := result.Err(); err != nil {
		return NewCacheError("failed to delete key", true).WithError(err)
	}
	if result.Val() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Exists checks if a key exists in the cache
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	result := r.client.Exists(ctx, key)
	if err := result.Err(); err != nil {
		return false, NewCacheError("failed to check existence", true).WithError(err)
	}
	return result.Val() > 0, nil
}

// GetMultiple uses MGET; missing keys are absent from the result
func (r *RedisCache) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return make(map[string][]byte), nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, NewCacheError("failed to get multiple keys", true).WithError(err)
	}

	result := make(map[string][]byte, len(values))
	for i, val := range values {
		if s, ok := val.(string); ok {
			result[keys[i]] = []byte(s)
		}
	}
	return result, nil
}

// SetMultiple writes all items in one pipeline
func (r *RedisCache) SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	if ttl == 0 {
		ttl = r.config.BlockTTL
	}

	pipe := r.client.Pipeline()
	for key, value := range items {
		pipe.Set(ctx, key, value, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return NewCacheError("failed to set multiple keys", true).WithError(err)
	}
	return nil
}

// DeleteMultiple removes multiple values from the cache
func (r *RedisCache) DeleteMultiple(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return NewCacheError("failed to delete multiple keys", true).WithError(err)
	}
	return nil
}

// DeletePattern removes every key matching pattern using SCAN, so it never
// blocks Redis the way KEYS would. It returns the number of deleted keys.
func (r *RedisCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return deleted, NewCacheError("failed to scan keys", true).WithError(err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, NewCacheError("failed to delete scanned keys", true).WithError(err)
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// Ping checks if the cache is healthy
func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return NewCacheError("ping failed", false).WithError(err)
	}
	return nil
}

// Close closes the cache connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// TTL returns the remaining time to live of a key, zero if it has none
func (r *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, NewCacheError("failed to get TTL", true).WithError(err)
	}

	switch ttl {
	case -2 * time.Nanosecond:
		return 0, ErrKeyNotFound
	case -1 * time.Nanosecond:
		return 0, nil
	}
	return ttl, nil
}
