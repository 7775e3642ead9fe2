package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/config"
)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects and pings; the caller falls back to the memory
// cache when this fails.
func NewRedisCache(cfg config.RedisConfig, defaultTTL time.Duration, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", client.Options().Addr),
		zap.Int("db", cfg.DB))

	return &RedisCache{
		client: client,
		ttl:    defaultTTL,
		logger: logger,
	}, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

func (c *RedisCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal cache value: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (c *RedisCache) GetStats(ctx context.Context) (*CacheStats, error) {
	size, err := c.client.DBSize(ctx).Result()
	if err != nil {
		return &CacheStats{Connected: false, Backend: "redis", Info: err.Error()}, nil
	}

	pool := c.client.PoolStats()
	return &CacheStats{
		Connected: true,
		Backend:   "redis",
		Info: fmt.Sprintf("keys=%d,hits=%d,misses=%d,total_conns=%d,idle_conns=%d",
			size, pool.Hits, pool.Misses, pool.TotalConns, pool.IdleConns),
	}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
