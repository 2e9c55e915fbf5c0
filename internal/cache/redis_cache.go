package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/room-server/internal/logging"
)

// RedisCache общий для всех узлов кеш в Redis
type RedisCache struct {
	client *redis.Client
	prefix string

	requests atomic.Int64
	hits     atomic.Int64
	misses   atomic.Int64
}

// CacheConfig содержит конфигурацию для кеша.
type CacheConfig struct {
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	// KeyPrefix добавляется ко всем ключам
	KeyPrefix      string        `yaml:"key_prefix"`
	MaxConnections int           `yaml:"max_connections"`
	PoolTimeout    time.Duration `yaml:"pool_timeout"`
}

// NewRedisCache подключается и проверяет соединение
func NewRedisCache(config *CacheConfig) (*RedisCache, error) {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "room:cache:"
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.PoolTimeout == 0 {
		config.PoolTimeout = 30 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetStorageLogger().Info("🔴 Redis cache initialized: %s", config.RedisURL)
	return &RedisCache{client: rdb, prefix: config.KeyPrefix}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	r.requests.Add(1)
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.misses.Add(1)
		return nil, ErrCacheMiss
	}
	if err != nil {
		r.misses.Add(1)
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	r.hits.Add(1)
	return val, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// GetMetrics возвращает метрики кеша.
func (r *RedisCache) GetMetrics() CacheMetrics {
	m := CacheMetrics{
		TotalRequests: r.requests.Load(),
		CacheHits:     r.hits.Load(),
		CacheMisses:   r.misses.Load(),
	}
	if m.TotalRequests > 0 {
		m.HitRatio = float64(m.CacheHits) / float64(m.TotalRequests)
	}
	return m
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
