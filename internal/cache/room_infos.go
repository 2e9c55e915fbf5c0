package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/annel0/room-server/internal/logging"
	"github.com/annel0/room-server/internal/room"
)

const roomInfoKeyPrefix = "room:info:"

func roomInfoKey(id int) string { return roomInfoKeyPrefix + strconv.Itoa(id) }

// RoomInfoCache room.InfoProvider с кешем перед постоянным хранилищем.
// Список комнат не кешируется.
type RoomInfoCache struct {
	cold        room.InfoProvider
	hot         Cache
	invalidator CacheInvalidator
	ttl         time.Duration
	logger      *logging.Logger
}

// NewRoomInfoCache invalidator может быть nil (один узел)
func NewRoomInfoCache(cold room.InfoProvider, hot Cache, invalidator CacheInvalidator, ttl time.Duration) *RoomInfoCache {
	return &RoomInfoCache{
		cold:        cold,
		hot:         hot,
		invalidator: invalidator,
		ttl:         ttl,
		logger:      logging.GetComponentLogger(logging.ComponentCache),
	}
}

func (c *RoomInfoCache) LoadRoom(ctx context.Context, id int) (*room.Info, error) {
	key := roomInfoKey(id)
	data, err := c.hot.Get(ctx, key)
	if err == nil {
		var info room.Info
		if err := json.Unmarshal(data, &info); err == nil {
			return &info, nil
		}
		c.logger.Warn("Испорченная запись кеша %s, перечитываем", key)
	} else if !IsCacheMiss(err) {
		c.logger.Warn("Кеш недоступен для %s: %v", key, err)
	}

	info, err := c.cold.LoadRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(info); err == nil {
		if err := c.hot.Set(ctx, key, data, c.ttl); err != nil {
			c.logger.Debug("Запись %s в кеш: %v", key, err)
		}
	}
	return info, nil
}

func (c *RoomInfoCache) ListRooms(ctx context.Context) ([]*room.Info, error) {
	return c.cold.ListRooms(ctx)
}

// Invalidate удаляет описание комнаты из кеша и оповещает остальные узлы
func (c *RoomInfoCache) Invalidate(ctx context.Context, id int) error {
	key := roomInfoKey(id)
	if err := c.hot.Delete(ctx, key); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	if c.invalidator != nil {
		return c.invalidator.PublishInvalidation(ctx, key)
	}
	return nil
}

// Listen применяет инвалидации других узлов к своему кешу
func (c *RoomInfoCache) Listen(ctx context.Context) error {
	if c.invalidator == nil {
		return nil
	}
	return c.invalidator.SubscribeInvalidations(ctx, func(key string) error {
		if !strings.HasPrefix(key, roomInfoKeyPrefix) {
			return nil
		}
		c.logger.Debug("♻️ Инвалидация %s от другого узла", key)
		return c.hot.Delete(context.Background(), key)
	})
}
