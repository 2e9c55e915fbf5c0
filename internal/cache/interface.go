// Package cache кеширует описания комнат перед постоянным хранилищем.
//
// Использование:
//
//	hot, _ := cache.NewRedisCache(&cache.CacheConfig{RedisURL: "localhost:6379"})
//	infos := cache.NewRoomInfoCache(mariaRepo, hot, invalidator, time.Minute)
//	info, err := infos.LoadRoom(ctx, 1)
//	err = infos.Invalidate(ctx, 1) // все узлы перечитают комнату 1
package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Cache хранилище байтовых значений с TTL
type Cache interface {
	// Get возвращает ErrCacheMiss, если ключа нет
	Get(ctx context.Context, key string) ([]byte, error)
	// Set с TTL = 0 хранит без истечения
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// CacheInvalidator рассылает инвалидации ключей между узлами
type CacheInvalidator interface {
	PublishInvalidation(ctx context.Context, key string) error
	// SubscribeInvalidations получает ключи, инвалидированные другими узлами
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error
	Close() error
}

// InvalidationHandler обрабатывает уведомления об инвалидации кеша.
type InvalidationHandler func(key string) error

// CacheMetrics счётчики обращений
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`
}

var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// MemoryCache кеш узла в памяти процесса
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value   []byte
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !item.expires.IsZero() && !m.now().Before(item.expires) {
		delete(m.items, key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), item.value...), nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Len число ключей, включая просроченные
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *MemoryCache) Close() error { return nil }
