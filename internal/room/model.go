package room

import (
	"context"
	"errors"

	"github.com/annel0/room-server/internal/vec"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrEntityExists  = errors.New("entity already in room")
	ErrEntityMissing = errors.New("entity not in room")
)

// Model статическое описание модели комнаты: карта высот и дверь
type Model struct {
	ID            string
	Heightmap     *Heightmap
	Door          vec.Vec3
	DoorDirection vec.Direction
}

// Info постоянная конфигурация комнаты из внешнего хранилища
type Info struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ModelID     string `json:"model_id"`
}

// ModelProvider отдаёт модели комнат при загрузке
type ModelProvider interface {
	LoadModel(ctx context.Context, id string) (*Model, error)
}

// InfoProvider отдаёт описания комнат
type InfoProvider interface {
	LoadRoom(ctx context.Context, id int) (*Info, error)
	ListRooms(ctx context.Context) ([]*Info, error)
}

// PositionStore хранит последнюю позицию сущности в комнате
type PositionStore interface {
	SavePosition(ctx context.Context, roomID int, entityID uint64, pos vec.Vec3) error
	LoadPosition(ctx context.Context, roomID int, entityID uint64) (vec.Vec3, bool, error)
}
