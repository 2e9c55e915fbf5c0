package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/room-server/internal/room"
)

// MemoryRoomRepo описания комнат в памяти
type MemoryRoomRepo struct {
	mu    sync.RWMutex
	rooms map[int]*room.Info
}

func NewMemoryRoomRepo(rooms ...*room.Info) *MemoryRoomRepo {
	r := &MemoryRoomRepo{rooms: make(map[int]*room.Info)}
	for _, info := range rooms {
		r.rooms[info.ID] = info
	}
	return r
}

// DefaultRooms комнаты для разработки поверх DefaultModels
func DefaultRooms() []*room.Info {
	return []*room.Info{
		{ID: 1, Name: "Welcome Lobby", Description: "Первая комната", ModelID: "model_a"},
		{ID: 2, Name: "Terrace", Description: "Ступенчатая терраса", ModelID: "model_terrace"},
	}
}

func (r *MemoryRoomRepo) LoadRoom(_ context.Context, id int) (*room.Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %d: %w", id, room.ErrRoomNotFound)
	}
	cp := *info
	return &cp, nil
}

func (r *MemoryRoomRepo) ListRooms(context.Context) ([]*room.Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*room.Info, 0, len(r.rooms))
	for _, info := range r.rooms {
		cp := *info
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRoomRepo) SaveRoom(_ context.Context, info *room.Info) error {
	if info.ID <= 0 {
		return fmt.Errorf("недействительный id комнаты: %d", info.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *info
	r.rooms[info.ID] = &cp
	return nil
}

// MariaRoomRepo описания комнат в MariaDB/MySQL, таблица rooms
type MariaRoomRepo struct {
	db *sql.DB
}

// NewMariaRoomRepo подключается по dsn (user:pass@tcp(host:port)/dbname)
// и создаёт таблицу, если её нет.
func NewMariaRoomRepo(dsn string) (*MariaRoomRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := &MariaRoomRepo{db: db}
	if err := repo.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *MariaRoomRepo) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS rooms (
			id          INT          PRIMARY KEY,
			name        VARCHAR(64)  NOT NULL,
			description VARCHAR(255) NOT NULL DEFAULT '',
			model_id    VARCHAR(64)  NOT NULL,
			updated_at  TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			            ON UPDATE    CURRENT_TIMESTAMP
		) ENGINE=InnoDB
	`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы rooms: %w", err)
	}
	return nil
}

func (r *MariaRoomRepo) LoadRoom(ctx context.Context, id int) (*room.Info, error) {
	var info room.Info
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, model_id FROM rooms WHERE id = ?`, id,
	).Scan(&info.ID, &info.Name, &info.Description, &info.ModelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %d: %w", id, room.ErrRoomNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки комнаты %d: %w", id, err)
	}
	return &info, nil
}

func (r *MariaRoomRepo) ListRooms(ctx context.Context) ([]*room.Info, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, description, model_id FROM rooms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения комнат: %w", err)
	}
	defer rows.Close()

	var out []*room.Info
	for rows.Next() {
		var info room.Info
		if err := rows.Scan(&info.ID, &info.Name, &info.Description, &info.ModelID); err != nil {
			return nil, err
		}
		out = append(out, &info)
	}
	return out, rows.Err()
}

// SaveRoom INSERT ... ON DUPLICATE KEY UPDATE
func (r *MariaRoomRepo) SaveRoom(ctx context.Context, info *room.Info) error {
	query := `
		INSERT INTO rooms (id, name, description, model_id)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			description = VALUES(description),
			model_id = VALUES(model_id)
	`
	if _, err := r.db.ExecContext(ctx, query, info.ID, info.Name, info.Description, info.ModelID); err != nil {
		return fmt.Errorf("ошибка сохранения комнаты %d: %w", info.ID, err)
	}
	return nil
}

// DB общее соединение, например для MariaPositionRepo
func (r *MariaRoomRepo) DB() *sql.DB { return r.db }

// Close закрывает соединение с базой данных.
func (r *MariaRoomRepo) Close() error {
	return r.db.Close()
}
