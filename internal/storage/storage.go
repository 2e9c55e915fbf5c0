// Package storage реализует провайдеры комнат: модели в BadgerDB,
// описания комнат в MariaDB и последние позиции в Redis, плюс in-memory
// варианты для разработки и тестов.
package storage

import (
	"errors"
	"fmt"

	"github.com/annel0/room-server/internal/room"
	"github.com/annel0/room-server/internal/vec"
)

var ErrModelNotFound = errors.New("room model not found")

// modelRecord формат хранения модели
type modelRecord struct {
	ID        string  `json:"id"`
	Heightmap string  `json:"heightmap"`
	DoorX     int     `json:"door_x"`
	DoorY     int     `json:"door_y"`
	DoorZ     float64 `json:"door_z"`
	DoorDir   uint8   `json:"door_dir"`
}

func toRecord(m *room.Model) modelRecord {
	return modelRecord{
		ID:        m.ID,
		Heightmap: m.Heightmap.String(),
		DoorX:     m.Door.X,
		DoorY:     m.Door.Y,
		DoorZ:     m.Door.Z,
		DoorDir:   uint8(m.DoorDirection),
	}
}

func (r modelRecord) toModel() (*room.Model, error) {
	hm, err := room.ParseHeightmap(r.Heightmap)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", r.ID, err)
	}
	return &room.Model{
		ID:            r.ID,
		Heightmap:     hm,
		Door:          vec.Vec3{X: r.DoorX, Y: r.DoorY, Z: r.DoorZ},
		DoorDirection: vec.Direction(r.DoorDir),
	}, nil
}
