package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brightlane/auctionhouse/internal/infrastructure/config"
)

// unlockScript performs a compare-and-delete: it only removes the lock
// key if the value still matches the token the caller presents, so one
// holder can never release a lock it no longer owns.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// redisCache implements the Cache interface using Redis
type redisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCache creates a new Redis cache instance with the given configuration
func NewRedisCache(cfg *config.RedisConfig, logger *zap.Logger) (Cache, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	opts := &redis.Options{
		Addr:         cfg.URL,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	client := redis.NewClient(opts)

	// Health check with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("redis cache initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB),
		zap.Int("pool_size", cfg.PoolSize))

	return &redisCache{
		client: client,
		logger: logger,
	}, nil
}

// Get retrieves a value by key
func (r *redisCache) Get(ctx context.Context, key string) (string, error) {
	result, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheKeyNotFound{Key: key}
		}
		r.logger.Error("redis get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("redis get failed: %w", err)
	}

	return result, nil
}

// Set stores a value with optional TTL
func (r *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	err := r.client.Set(ctx, key, value, ttl).Err()
	if err != nil {
		r.logger.Error("redis set failed",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Delete removes a key
func (r *redisCache) Delete(ctx context.Context, key string) error {
	err := r.client.Del(ctx, key).Err()
	if err != nil {
		r.logger.Error("redis delete failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis delete failed: %w", err)
	}

	return nil
}

// Exists checks if a key exists
func (r *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	result, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		r.logger.Error("redis exists check failed", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("redis exists check failed: %w", err)
	}

	return result > 0, nil
}

// SetNX sets a value only if the key doesn't exist (atomic)
func (r *redisCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	result, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		r.logger.Error("redis setnx failed",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	return result, nil
}

// Increment atomically increments a numeric value
func (r *redisCache) Increment(ctx context.Context, key string) (int64, error) {
	result, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		r.logger.Error("redis increment failed", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("redis increment failed: %w", err)
	}

	return result, nil
}

// Expire sets TTL on an existing key
func (r *redisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	result, err := r.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		r.logger.Error("redis expire failed",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("redis expire failed: %w", err)
	}
	
	// Redis Expire returns false if key doesn't exist
	if !result {
		return ErrCacheKeyNotFound{Key: key}
	}

	return nil
}

// GetJSON retrieves and unmarshals JSON data
func (r *redisCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := r.Get(ctx, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		r.logger.Error("json unmarshal failed",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	return nil
}

// SetJSON marshals and stores JSON data
func (r *redisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		r.logger.Error("json marshal failed",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("json marshal failed: %w", err)
	}

	return r.Set(ctx, key, data, ttl)
}

// SAdd adds members to a set, refreshing its TTL if ttl > 0
func (r *redisCache) SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	if err := r.client.SAdd(ctx, key, vals...).Err(); err != nil {
		r.logger.Error("redis sadd failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis sadd failed: %w", err)
	}
	if ttl > 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			r.logger.Error("redis sadd expire failed", zap.String("key", key), zap.Error(err))
			return fmt.Errorf("redis sadd expire failed: %w", err)
		}
	}
	return nil
}

// SRem removes members from a set
func (r *redisCache) SRem(ctx context.Context, key string, members ...string) error {
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	if err := r.client.SRem(ctx, key, vals...).Err(); err != nil {
		r.logger.Error("redis srem failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis srem failed: %w", err)
	}
	return nil
}

// SCard returns the number of members in a set
func (r *redisCache) SCard(ctx context.Context, key string) (int64, error) {
	n, err := r.client.SCard(ctx, key).Result()
	if err != nil {
		r.logger.Error("redis scard failed", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("redis scard failed: %w", err)
	}
	return n, nil
}

// SIsMember reports whether a member belongs to a set
func (r *redisCache) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		r.logger.Error("redis sismember failed", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("redis sismember failed: %w", err)
	}
	return ok, nil
}

// ZAdd adds a member with a score to a sorted set
func (r *redisCache) ZAdd(ctx context.Context, key string, score float64, member string, ttl time.Duration) error {
	if err := r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		r.logger.Error("redis zadd failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis zadd failed: %w", err)
	}
	if ttl > 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			r.logger.Error("redis zadd expire failed", zap.String("key", key), zap.Error(err))
			return fmt.Errorf("redis zadd expire failed: %w", err)
		}
	}
	return nil
}

// ZRemRangeByScore removes members scored within [min, max]
func (r *redisCache) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	if err := r.client.ZRemRangeByScore(ctx, key, fmt.Sprintf("%f", min), fmt.Sprintf("%f", max)).Err(); err != nil {
		r.logger.Error("redis zremrangebyscore failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis zremrangebyscore failed: %w", err)
	}
	return nil
}

// ZCard returns the number of members in a sorted set
func (r *redisCache) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		r.logger.Error("redis zcard failed", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("redis zcard failed: %w", err)
	}
	return n, nil
}

// Publish broadcasts a message to a channel
func (r *redisCache) Publish(ctx context.Context, channel string, message interface{}) error {
	if err := r.client.Publish(ctx, channel, message).Err(); err != nil {
		r.logger.Error("redis publish failed", zap.String("channel", channel), zap.Error(err))
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Subscribe returns a channel of messages published to the given channels
func (r *redisCache) Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error) {
	sub := r.client.Subscribe(ctx, channels...)
	out := make(chan Message)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- Message{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, sub.Close
}

// Lock attempts to acquire a distributed mutual-exclusion lock
func (r *redisCache) Lock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token, err := randomToken()
	if err != nil {
		return "", false, fmt.Errorf("generate lock token: %w", err)
	}

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		r.logger.Error("redis lock failed", zap.String("key", key), zap.Error(err))
		return "", false, fmt.Errorf("redis lock failed: %w", err)
	}
	return token, ok, nil
}

// Unlock releases a lock previously acquired with Lock
func (r *redisCache) Unlock(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		r.logger.Error("redis unlock failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis unlock failed: %w", err)
	}
	return nil
}

// Health reports whether Redis is reachable
func (r *redisCache) Health(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Close closes the cache connection
func (r *redisCache) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("redis close failed", zap.Error(err))
		return fmt.Errorf("redis close failed: %w", err)
	}

	r.logger.Info("redis cache connection closed")
	return nil
}