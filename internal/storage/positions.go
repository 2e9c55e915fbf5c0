package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/room-server/internal/logging"
	"github.com/annel0/room-server/internal/vec"
)

type positionKey struct {
	room   int
	entity uint64
}

// MemoryPositionRepo последние позиции в памяти
type MemoryPositionRepo struct {
	mu        sync.RWMutex
	positions map[positionKey]vec.Vec3
}

func NewMemoryPositionRepo() *MemoryPositionRepo {
	return &MemoryPositionRepo{positions: make(map[positionKey]vec.Vec3)}
}

func (r *MemoryPositionRepo) SavePosition(_ context.Context, roomID int, entityID uint64, pos vec.Vec3) error {
	if entityID == 0 {
		return fmt.Errorf("недействительный entityID: %d", entityID)
	}
	r.mu.Lock()
	r.positions[positionKey{roomID, entityID}] = pos
	r.mu.Unlock()
	return nil
}

func (r *MemoryPositionRepo) LoadPosition(_ context.Context, roomID int, entityID uint64) (vec.Vec3, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.positions[positionKey{roomID, entityID}]
	return pos, ok, nil
}

// Count число сохранённых позиций
func (r *MemoryPositionRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string        // Адрес Redis сервера
	Password  string        // Пароль (пустой если не требуется)
	DB        int           // Номер базы данных
	KeyPrefix string        // Префикс для ключей
	TTL       time.Duration // Время жизни позиций комнаты
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "room:pos:",
		TTL:       24 * time.Hour,
	}
}

// RedisPositionRepo позиции в хеше на комнату: HSET room:pos:<room> <entity> <json>
type RedisPositionRepo struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

type storedPosition struct {
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Z         float64   `json:"z"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRedisPositionRepo подключается и проверяет соединение
func NewRedisPositionRepo(ctx context.Context, config *RedisConfig) (*RedisPositionRepo, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "room:pos:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetStorageLogger().Info("🔴 Connected to Redis at %s", config.Addr)
	return &RedisPositionRepo{client: client, keyPrefix: config.KeyPrefix, ttl: config.TTL}, nil
}

func (r *RedisPositionRepo) key(roomID int) string {
	return r.keyPrefix + strconv.Itoa(roomID)
}

func (r *RedisPositionRepo) SavePosition(ctx context.Context, roomID int, entityID uint64, pos vec.Vec3) error {
	data, err := json.Marshal(storedPosition{X: pos.X, Y: pos.Y, Z: pos.Z, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	key := r.key(roomID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.FormatUint(entityID, 10), data)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save %s/%d: %w", key, entityID, err)
	}
	return nil
}

func (r *RedisPositionRepo) LoadPosition(ctx context.Context, roomID int, entityID uint64) (vec.Vec3, bool, error) {
	data, err := r.client.HGet(ctx, r.key(roomID), strconv.FormatUint(entityID, 10)).Bytes()
	if errors.Is(err, redis.Nil) {
		return vec.Vec3{}, false, nil
	}
	if err != nil {
		return vec.Vec3{}, false, fmt.Errorf("redis load %d/%d: %w", roomID, entityID, err)
	}

	var sp storedPosition
	if err := json.Unmarshal(data, &sp); err != nil {
		return vec.Vec3{}, false, fmt.Errorf("redis decode %d/%d: %w", roomID, entityID, err)
	}
	return vec.Vec3{X: sp.X, Y: sp.Y, Z: sp.Z}, true, nil
}

// ClearRoom удаляет все позиции комнаты
func (r *RedisPositionRepo) ClearRoom(ctx context.Context, roomID int) error {
	return r.client.Del(ctx, r.key(roomID)).Err()
}

func (r *RedisPositionRepo) Close() error {
	return r.client.Close()
}

// MariaPositionRepo позиции в таблице room_positions
type MariaPositionRepo struct {
	db *sql.DB
}

// NewMariaPositionRepo использует уже открытое соединение и создаёт таблицу
func NewMariaPositionRepo(db *sql.DB) (*MariaPositionRepo, error) {
	query := `
		CREATE TABLE IF NOT EXISTS room_positions (
			room_id    INT         NOT NULL,
			entity_id  BIGINT      NOT NULL,
			x          INT         NOT NULL,
			y          INT         NOT NULL,
			z          DOUBLE      NOT NULL DEFAULT 0,
			updated_at TIMESTAMP   DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE   CURRENT_TIMESTAMP,
			PRIMARY KEY (room_id, entity_id)
		) ENGINE=InnoDB
	`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("ошибка создания таблицы room_positions: %w", err)
	}
	return &MariaPositionRepo{db: db}, nil
}

func (r *MariaPositionRepo) SavePosition(ctx context.Context, roomID int, entityID uint64, pos vec.Vec3) error {
	if entityID == 0 {
		return fmt.Errorf("недействительный entityID: %d", entityID)
	}
	query := `
		INSERT INTO room_positions (room_id, entity_id, x, y, z)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			x = VALUES(x),
			y = VALUES(y),
			z = VALUES(z)
	`
	if _, err := r.db.ExecContext(ctx, query, roomID, entityID, pos.X, pos.Y, pos.Z); err != nil {
		return fmt.Errorf("ошибка сохранения позиции %d в комнате %d: %w", entityID, roomID, err)
	}
	return nil
}

func (r *MariaPositionRepo) LoadPosition(ctx context.Context, roomID int, entityID uint64) (vec.Vec3, bool, error) {
	var pos vec.Vec3
	err := r.db.QueryRowContext(ctx,
		`SELECT x, y, z FROM room_positions WHERE room_id = ? AND entity_id = ?`, roomID, entityID,
	).Scan(&pos.X, &pos.Y, &pos.Z)
	if errors.Is(err, sql.ErrNoRows) {
		return vec.Vec3{}, false, nil
	}
	if err != nil {
		return vec.Vec3{}, false, fmt.Errorf("ошибка загрузки позиции %d в комнате %d: %w", entityID, roomID, err)
	}
	return pos, true, nil
}
